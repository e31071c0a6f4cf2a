package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/storage"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	manifest := filepath.Join(dir, "repos.yaml")
	if err := os.WriteFile(manifest, []byte("- repo: octo/app\n- repo: octo/lib\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	versions := filepath.Join(dir, "versions.json")
	if err := os.WriteFile(versions, []byte(`{"junit:junit": "4.13.2"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Experiment.ID = "exp"
	cfg.Experiment.Dataset = manifest
	cfg.DependencyVersions = versions
	cfg.Evaluation.Command = []string{"mvn-verify", "{{.Path}}", "--policy={{.Policy}}"}
	hybrid := cfg.Variants["hybrid"]
	hybrid.PrepareCommand = "mvn -q dependency:resolve"
	cfg.Variants["hybrid"] = hybrid
	return cfg
}

func newDoctor(cfg *config.Config, missing ...string) *Doctor {
	d := New(cfg)
	d.lookPath = func(name string) (string, error) {
		for _, m := range missing {
			if m == name {
				return "", errors.New("not found")
			}
		}
		return "/usr/bin/" + name, nil
	}
	d.detectFS = func(path string) (storage.Filesystem, error) {
		return storage.Filesystem{Inspected: path, Type: "ext4"}, nil
	}
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingExperimentIDIsWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Experiment.ID = ""
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "experiment", "experiment.id is required")
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Experiment.StatePath = ""
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "experiment", "state_path")
}

func TestValidate_BadDataset(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Experiment.Dataset = filepath.Join(t.TempDir(), "missing.yaml")
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "dataset", "missing.yaml")
}

func TestValidate_DuplicateDatasetEntry(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.WriteFile(cfg.Experiment.Dataset, []byte("octo/app\nocto/app\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Experiment.Dataset = renameExt(t, cfg.Experiment.Dataset, ".txt")
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "dataset", "listed more than once")
}

func TestValidate_DependencyLookupNeedsTable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.DependencyVersions = ""
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "variants", "dependency_versions is not set")
}

func TestValidate_UnreadableVersionTable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.WriteFile(cfg.DependencyVersions, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "dependency_versions", "parse dependency versions")
}

func TestValidate_BadInstructionTemplate(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	v := cfg.Variants["baseline"]
	v.Instruction = "migrate {{.Path"
	cfg.Variants["baseline"] = v
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "variants", "invalid template")
}

func TestValidate_PrepareWithoutCommand(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	v := cfg.Variants["hybrid"]
	v.PrepareCommand = ""
	cfg.Variants["hybrid"] = v
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "variants", "no prepare_command")
}

func TestValidate_RelativeSandboxPrefix(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Sandbox.AllowedPrefixes = []string{"usr/bin", "/"}
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "sandbox", "not absolute")
	assertHasWarning(t, r, "sandbox", "any absolute path")
}

func TestValidate_MissingGit(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t), "git").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "host", "git not found")
}

func TestValidate_EvaluationCommand(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	r := newDoctor(cfg, "mvn-verify").Validate()
	assertHasError(t, r, "evaluation", "mvn-verify not found")

	cfg.Evaluation.Command = nil
	r = newDoctor(cfg).Validate()
	assertHasWarning(t, r, "evaluation", "no evaluation command")
}

func TestValidate_OpenAPIWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Listen = "0.0.0.0:8080"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "without a token")

	cfg.API.Token = "secret"
	r = newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_NetworkFilesystems(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Experiment.StatePath = "/mnt/share/results.db"
	cfg.Experiment.Workdir = "/mnt/share/work"
	d := newDoctor(cfg)
	d.detectFS = func(path string) (storage.Filesystem, error) {
		if strings.HasPrefix(path, "/mnt/share") {
			return storage.Filesystem{Inspected: "/mnt/share", Type: "nfs", Network: true}, nil
		}
		return storage.Filesystem{Inspected: path, Type: "ext4"}, nil
	}
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "filesystem", "file locking is unreliable")
	assertHasWarning(t, r, "filesystem", "/mnt/share/work is on network filesystem nfs")
}

func TestValidate_TelemetryEndpointWithScheme(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Telemetry.Endpoint = "http://collector:4318"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "telemetry", "host:port")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}

func renameExt(t *testing.T, path, ext string) string {
	t.Helper()
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ext
	if err := os.Rename(path, out); err != nil {
		t.Fatal(err)
	}
	return out
}
