package sandbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/codemig/internal/workspace"
)

// DefaultAllowedPrefixes are system locations any command may mention.
var DefaultAllowedPrefixes = []string{"/usr/bin/", "/bin/", "/usr/local/bin/", "/dev/null", "/tmp"}

var (
	// cdPattern captures the arguments of a cd up to the next separator.
	cdPattern     = regexp.MustCompile(`\bcd\s+([^;&|)\n]*)`)
	bareCDPattern = regexp.MustCompile(`\bcd\s*(?:$|[;&|)])`)
	// A path token starts after whitespace or a redirection and may open
	// with one quote character.
	absPathPattern = regexp.MustCompile(`(?:^|[\s<>=])["']?(/[^\s;&|*?"'()]+)`)
)

// Verdict is the outcome of validating one command.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Check validates command against root. root must already be absolute and
// canonical; it is never resolved here.
func Check(root string, allowed []string, command string) Verdict {
	if bareCDPattern.MatchString(command) {
		return deny("Error: 'cd' is not allowed in restricted shell")
	}

	for _, m := range cdPattern.FindAllStringSubmatch(command, -1) {
		target, ok := cdTarget(m[1])
		if !ok {
			return deny("Error: 'cd' is not allowed in restricted shell")
		}
		if target == "-" || target == "~" || strings.HasPrefix(target, "~") {
			return deny("Error: 'cd %s' is not allowed in restricted shell", target)
		}

		var resolved string
		if filepath.IsAbs(target) {
			resolved = filepath.Clean(target)
		} else {
			resolved = filepath.Join(root, target)
		}
		if !workspace.Within(root, resolved) {
			return deny("Error: 'cd %s' would escape the allowed path '%s'", target, root)
		}
	}

	for _, m := range absPathPattern.FindAllStringSubmatch(command, -1) {
		p := filepath.Clean(m[1])
		if workspace.Within(root, p) || allowListed(allowed, p) {
			continue
		}
		return deny("Error: Absolute path '%s' is outside the allowed path '%s'", m[1], root)
	}

	return allow()
}

// cdTarget returns the directory operand of a cd, skipping options such as
// -P, -L and the "--" terminator. ok is false when only options remain.
func cdTarget(args string) (string, bool) {
	fields := strings.Fields(args)
	for i, f := range fields {
		f = strings.Trim(f, `"'`)
		if f == "--" {
			if i+1 < len(fields) {
				return strings.Trim(fields[i+1], `"'`), true
			}
			return "", false
		}
		if len(f) > 1 && strings.HasPrefix(f, "-") {
			continue
		}
		return f, true
	}
	return "", false
}

func allowListed(allowed []string, p string) bool {
	for _, prefix := range allowed {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(p, prefix) {
				return true
			}
			continue
		}
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}
