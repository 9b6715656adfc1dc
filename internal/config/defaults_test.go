package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinDefaultsFullyPopulated(t *testing.T) {
	t.Parallel()

	d := BuiltinDefaults()
	if err := d.validate(); err != nil {
		t.Fatalf("builtin defaults invalid: %v", err)
	}
}

func TestLoadDefaultsLayersOverBuiltin(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "defaults.yaml")
	content := `
resources:
  memoryMb: 2048
jobDirRoot: /var/lib/jobplane/jobs
images:
  runtime:
    name: jobplane/runtime
    tag: stable
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write defaults file: %v", err)
	}

	d, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}

	if *d.Resources.MemoryMB != 2048 {
		t.Errorf("expected memory override 2048, got %d", *d.Resources.MemoryMB)
	}
	// Untouched fields keep built-in values.
	if *d.Resources.CPU != 1 {
		t.Errorf("expected builtin cpu 1, got %d", *d.Resources.CPU)
	}
	if d.JobDirRoot != "/var/lib/jobplane/jobs" {
		t.Errorf("unexpected jobDirRoot: %q", d.JobDirRoot)
	}
	if img, ok := d.Images["runtime"]; !ok || img.Tag != "stable" {
		t.Errorf("unexpected images: %v", d.Images)
	}
}

func TestLoadDefaultsEmptyPathUsesBuiltin(t *testing.T) {
	t.Parallel()

	d, err := LoadDefaults("")
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if *d.Resources.MemoryMB != 1536 {
		t.Errorf("expected builtin memory, got %d", *d.Resources.MemoryMB)
	}
}

func TestLoadDefaultsRejectsBadValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "defaults.yaml")
	if err := os.WriteFile(path, []byte("resources:\n  cpu: 0\n"), 0o644); err != nil {
		t.Fatalf("failed to write defaults file: %v", err)
	}
	if _, err := LoadDefaults(path); err == nil {
		t.Error("expected error for cpu below 1")
	}
}
