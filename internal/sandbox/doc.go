// Package sandbox validates and executes agent shell commands confined to a
// workspace root.
//
// Validation is a cooperative heuristic, not an OS-level boundary. It scans
// the command text for directory changes and absolute path tokens. It does
// not see through symlinks inside the workspace, shell quoting or encoding
// tricks, variable expansion or command substitution ($(...), backticks).
// A determined process can escape it; a cooperative agent that wanders is
// told where the fence is.
package sandbox
