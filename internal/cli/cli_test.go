package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a minimal config that keeps everything local: an
// in-memory store and a file cache under the test's temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "harbord.toml")
	body := "[cache]\ndir = \"" + filepath.Join(dir, "cache") + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStatusCmd_EmptyCatalog(t *testing.T) {
	configPath := writeConfig(t)
	cmd := newStatusCmd(&configPath)
	cmd.SetArgs([]string{})

	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "packages: 0") {
		t.Errorf("expected empty catalog, got:\n%s", got)
	}
	if !strings.Contains(got, "pending") {
		t.Errorf("expected per-state counts, got:\n%s", got)
	}
}

func TestCacheInfoCmd(t *testing.T) {
	configPath := writeConfig(t)
	cmd := newCacheInfoCmd(&configPath)
	cmd.SetArgs([]string{})

	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("cache info failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "cache") || !strings.Contains(got, "entries: 0") {
		t.Errorf("expected configured dir and zero entries, got %q", got)
	}
}

func TestCacheClearCmd_MissingDir(t *testing.T) {
	configPath := writeConfig(t)
	cmd := newCacheClearCmd(&configPath)
	cmd.SetArgs([]string{})

	// The configured dir does not exist yet; clear must not fail.
	if err := cmd.Execute(); err != nil {
		t.Fatalf("cache clear failed: %v", err)
	}
}

func TestIngestCmd_NoTargets(t *testing.T) {
	configPath := writeConfig(t)
	cmd := newIngestCmd(&configPath)
	cmd.SetArgs([]string{})

	// Empty queue with an in-memory store drains immediately.
	if err := cmd.Execute(); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
}
