// Package doctor checks a codemig configuration and host before a batch.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/dataset"
	"github.com/mattjoyce/codemig/internal/depversion"
	"github.com/mattjoyce/codemig/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host it will run on.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	detectFS func(string) (storage.Filesystem, error)
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, detectFS: storage.DetectFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateExperiment(r)
	d.validateFilesystems(r)
	d.validateDataset(r)
	d.validateVariants(r)
	d.validateSandbox(r)
	d.validateHostTools(r)
	d.validateEvaluation(r)
	d.warnOpenAPI(r)
	d.warnTelemetryEndpoint(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateExperiment(r *Result) {
	if err := d.cfg.ValidateBatch(); err != nil {
		d.addWarning(r, "experiment", "experiment.id", err.Error())
	}
	if d.cfg.Experiment.StatePath == "" {
		d.addError(r, "experiment", "experiment.state_path", "state_path is required")
	}
	if d.cfg.Experiment.Workdir == "" {
		d.addError(r, "experiment", "experiment.workdir", "workdir is required")
	}
	if d.cfg.Experiment.OutputDir == "" {
		d.addError(r, "experiment", "experiment.output_dir", "output_dir is required")
	}
}

// validateFilesystems rejects network mounts for files that are locked and
// warns for checkouts, where builds on such mounts are slow and flaky.
func (d *Doctor) validateFilesystems(r *Result) {
	paths := []struct {
		field, path string
		fatal       bool
	}{
		{"experiment.state_path", d.cfg.Experiment.StatePath, true},
		{"experiment.output_dir", d.cfg.Experiment.OutputDir, true},
		{"experiment.workdir", d.cfg.Experiment.Workdir, false},
	}
	for _, p := range paths {
		if p.path == "" {
			continue
		}
		fs, err := d.detectFS(p.path)
		if err != nil {
			d.addWarning(r, "filesystem", p.field, err.Error())
			continue
		}
		if !fs.Network {
			continue
		}
		msg := fmt.Sprintf("%s is on network filesystem %s", p.path, fs.Type)
		if p.fatal {
			d.addError(r, "filesystem", p.field, msg+"; file locking is unreliable there")
		} else {
			d.addWarning(r, "filesystem", p.field, msg)
		}
	}
}

func (d *Doctor) validateDataset(r *Result) {
	path := d.cfg.Experiment.Dataset
	if path == "" {
		d.addWarning(r, "dataset", "experiment.dataset", "no dataset manifest; batch needs repo ids on the command line")
		return
	}
	entries, err := dataset.Load(path)
	if err != nil {
		d.addError(r, "dataset", "experiment.dataset", err.Error())
		return
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Repo] {
			d.addWarning(r, "dataset", "experiment.dataset",
				fmt.Sprintf("repository %q is listed more than once; it runs once", e.Repo))
		}
		seen[e.Repo] = true
	}
}

func (d *Doctor) validateVariants(r *Result) {
	var versionsChecked bool
	for _, name := range d.cfg.VariantNames() {
		v := d.cfg.Variants[name]
		field := "variants." + name

		if strings.TrimSpace(v.SystemPrompt) == "" {
			d.addWarning(r, "variants", field+".system_prompt", "system prompt is empty")
		}
		if v.Instruction != "" {
			if _, err := template.New(name).Option("missingkey=error").Parse(v.Instruction); err != nil {
				d.addError(r, "variants", field+".instruction", fmt.Sprintf("invalid template: %v", err))
			}
		}
		if v.Prepare && strings.TrimSpace(v.PrepareCommand) == "" {
			d.addWarning(r, "variants", field+".prepare_command", "prepare is set but no prepare_command is configured")
		}

		if !v.Has(config.CapDependencyLookup) {
			continue
		}
		if d.cfg.DependencyVersions == "" {
			d.addError(r, "variants", field,
				fmt.Sprintf("variant %q grants %s but dependency_versions is not set", name, config.CapDependencyLookup))
			continue
		}
		if versionsChecked {
			continue
		}
		versionsChecked = true
		table, err := depversion.Load(d.cfg.DependencyVersions)
		if err != nil {
			d.addError(r, "dependency_versions", "dependency_versions", err.Error())
			continue
		}
		if table.Len() == 0 {
			d.addWarning(r, "dependency_versions", "dependency_versions", "dependency version table is empty")
		}
	}
}

func (d *Doctor) validateSandbox(r *Result) {
	for i, p := range d.cfg.Sandbox.AllowedPrefixes {
		field := fmt.Sprintf("sandbox.allowed_prefixes[%d]", i)
		if !filepath.IsAbs(p) {
			d.addError(r, "sandbox", field, fmt.Sprintf("prefix %q is not absolute", p))
			continue
		}
		if filepath.Clean(p) == "/" {
			d.addWarning(r, "sandbox", field, "prefix \"/\" lets commands reference any absolute path")
		}
	}
}

func (d *Doctor) validateHostTools(r *Result) {
	for _, bin := range []string{"git", "sh"} {
		if _, err := d.lookPath(bin); err != nil {
			d.addError(r, "host", "", fmt.Sprintf("%s not found on PATH", bin))
		}
	}
}

func (d *Doctor) validateEvaluation(r *Result) {
	cmd := d.cfg.Evaluation.Command
	if len(cmd) == 0 {
		d.addWarning(r, "evaluation", "evaluation.command", "no evaluation command; every verdict will be an error")
		return
	}
	for i, arg := range cmd {
		if _, err := template.New("arg").Option("missingkey=error").Parse(arg); err != nil {
			d.addError(r, "evaluation", fmt.Sprintf("evaluation.command[%d]", i), fmt.Sprintf("invalid template: %v", err))
		}
	}
	if strings.Contains(cmd[0], "{{") {
		return
	}
	if _, err := d.lookPath(cmd[0]); err != nil {
		d.addError(r, "evaluation", "evaluation.command[0]", fmt.Sprintf("%s not found", cmd[0]))
	}
}

// warnOpenAPI flags an unauthenticated API on a non-loopback address.
func (d *Doctor) warnOpenAPI(r *Result) {
	if d.cfg.API.Token != "" || d.cfg.API.Listen == "" {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q", d.cfg.API.Listen))
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.token", "API listens beyond loopback without a token")
}

func (d *Doctor) warnTelemetryEndpoint(r *Result) {
	ep := d.cfg.Telemetry.Endpoint
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		d.addWarning(r, "telemetry", "telemetry.endpoint",
			"endpoint should be host:port; use telemetry.insecure for plain HTTP")
	}
	if ep == "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		d.addWarning(r, "telemetry", "telemetry.endpoint",
			"OTEL_EXPORTER_OTLP_ENDPOINT is set but telemetry.endpoint is empty; telemetry stays disabled")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
