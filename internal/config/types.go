package config

import "time"

// Capability names understood by the tool surface.
const (
	CapShell            = "shell"
	CapEditor           = "editor"
	CapDependencyLookup = "dependency_lookup"
)

// KnownCapabilities lists every capability a variant may request.
var KnownCapabilities = map[string]bool{
	CapShell:            true,
	CapEditor:           true,
	CapDependencyLookup: true,
}

// Config represents the complete codemig configuration.
type Config struct {
	Service            ServiceConfig      `yaml:"service"`
	Experiment         ExperimentConfig   `yaml:"experiment"`
	Model              ModelConfig        `yaml:"model"`
	Agent              AgentConfig        `yaml:"agent"`
	Sandbox            SandboxConfig      `yaml:"sandbox"`
	Workspace          WorkspaceConfig    `yaml:"workspace"`
	Evaluation         EvaluationConfig   `yaml:"evaluation"`
	Variants           map[string]Variant `yaml:"variants"`
	DependencyVersions string             `yaml:"dependency_versions,omitempty"`
	Telemetry          TelemetryConfig    `yaml:"telemetry"`
	API                APIConfig          `yaml:"api"`
}

// ServiceConfig defines process-wide logging settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file,omitempty"`
	// LogJournal also sends records to the systemd journal.
	LogJournal bool `yaml:"log_journal,omitempty"`
	// ToolLog receives one JSON line per tool invocation.
	ToolLog string `yaml:"tool_log,omitempty"`
}

// ExperimentConfig identifies one batch experiment and where it writes.
type ExperimentConfig struct {
	ID        string `yaml:"id"`
	OutputDir string `yaml:"output_dir"`
	Workdir   string `yaml:"workdir"`
	Workers   int    `yaml:"workers"`
	Dataset   string `yaml:"dataset,omitempty"`
	StatePath string `yaml:"state_path"`
	Variant   string `yaml:"variant"`
}

// ModelConfig configures the model oracle.
type ModelConfig struct {
	Provider       string         `yaml:"provider"`
	ID             string         `yaml:"id"`
	Host           string         `yaml:"host,omitempty"`
	Temperature    float64        `yaml:"temperature"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	MaxRetries     int            `yaml:"max_retries"`
	Options        map[string]any `yaml:"options,omitempty"`
}

// AgentConfig bounds a single agent run.
type AgentConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// SandboxConfig configures command confinement.
type SandboxConfig struct {
	AllowedPrefixes []string      `yaml:"allowed_prefixes"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxOutputBytes  int           `yaml:"max_output_bytes"`
}

// WorkspaceConfig configures repository acquisition.
type WorkspaceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	CloneTimeout time.Duration `yaml:"clone_timeout"`
	CloneRetries int           `yaml:"clone_retries"`
}

// EvaluationConfig configures the command-backed evaluation oracle.
// Command entries are text/template strings.
type EvaluationConfig struct {
	Command []string      `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// Variant is one named tool/prompt configuration.
type Variant struct {
	Capabilities []string `yaml:"capabilities"`
	Prepare      bool     `yaml:"prepare,omitempty"`
	// PrepareCommand runs in the workspace before the first round when
	// Prepare is set.
	PrepareCommand string `yaml:"prepare_command,omitempty"`
	SystemPrompt   string `yaml:"system_prompt"`
	// Instruction is a text/template rendered with the workspace root as .Path.
	Instruction string `yaml:"instruction,omitempty"`
}

// Has reports whether the variant grants capability c.
func (v Variant) Has(c string) bool {
	for _, got := range v.Capabilities {
		if got == c {
			return true
		}
	}
	return false
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Token, when set, is required as a bearer token on every route but
	// /healthz.
	Token string `yaml:"token,omitempty"`
}

// DefaultInstruction is the initial user message of every run.
const DefaultInstruction = "The code repository located at {{.Path}} is currently written in Java 8. " +
	"Please migrate the entire codebase to Java 17."

const promptPreamble = "You are an expert Java developer assistant who can migrate Java projects " +
	"from JDK 8 to JDK 17. Make sure `mvn clean verify` pass with JDK 17 after migration."

// Built-in system prompts.
const (
	BaselinePrompt = promptPreamble + " When `mvn clean verify` succeeds, you can conclude the task. " +
		"You don't have to provide any summary."

	PEPrompt = promptPreamble + " You should update all dependencies in the `pom.xml` file to their " +
		"latest versions that support Java 17. When `mvn clean verify` succeeds, you " +
		"can conclude the task. You don't have to provide any summary."

	HybridPrompt = promptPreamble + " Dependencies in the `pom.xml` file have been updated to their " +
		"latest versions that support Java 17, but these changes might introduce " +
		"compatibility issues in the codebase. Please fix any such issues in your " +
		"migration. Do not downgrade the dependency versions back to their JDK 8 " +
		"compatible versions."

	RAGPrompt = promptPreamble + "\n\n" +
		"You have access to a dependency version lookup tool. When updating dependencies " +
		"in pom.xml:\n" +
		"1. Use the lookup_dependency_version tool to look up the recommended Java 17 " +
		"compatible version for each dependency\n" +
		"2. If a dependency is not found in the database, use your knowledge to select " +
		"an appropriate version\n" +
		"3. Update all dependencies to their Java 17 compatible versions"
)

// DefaultVariants returns the built-in variant table.
func DefaultVariants() map[string]Variant {
	return map[string]Variant{
		"baseline": {
			Capabilities: []string{CapShell, CapEditor},
			SystemPrompt: BaselinePrompt,
		},
		"pe": {
			Capabilities: []string{CapShell, CapEditor},
			SystemPrompt: PEPrompt,
		},
		"hybrid": {
			Capabilities: []string{CapShell, CapEditor},
			Prepare:      true,
			SystemPrompt: HybridPrompt,
		},
		"rag": {
			Capabilities: []string{CapShell, CapEditor, CapDependencyLookup},
			SystemPrompt: RAGPrompt,
		},
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Experiment: ExperimentConfig{
			OutputDir: "./migration_results",
			Workdir:   "/tmp/workdir",
			Workers:   8,
			StatePath: "./data/results.db",
			Variant:   "baseline",
		},
		Model: ModelConfig{
			Provider:       "ollama",
			ID:             "qwen2.5-coder:32b",
			Temperature:    1.0,
			RequestTimeout: 10 * time.Minute,
			MaxRetries:     3,
		},
		Agent: AgentConfig{
			MaxTurns: 80,
		},
		Sandbox: SandboxConfig{
			AllowedPrefixes: []string{"/usr/bin/", "/bin/", "/usr/local/bin/", "/dev/null", "/tmp"},
			Timeout:         300 * time.Second,
			MaxOutputBytes:  256 * 1024,
		},
		Workspace: WorkspaceConfig{
			BaseURL:      "https://github.com",
			CloneTimeout: 300 * time.Second,
			CloneRetries: 3,
		},
		Evaluation: EvaluationConfig{
			Timeout: 30 * time.Minute,
		},
		Variants: DefaultVariants(),
		Telemetry: TelemetryConfig{
			ServiceName: "codemig",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}
