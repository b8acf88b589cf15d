package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tagtools/autotagd/pkg/protocol"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.CtagsCmd != "ctags" {
		t.Errorf("expected ctags_cmd 'ctags', got '%s'", cfg.CtagsCmd)
	}
	if cfg.TagsFile != "tags" {
		t.Errorf("expected tags_file 'tags', got '%s'", cfg.TagsFile)
	}
	if cfg.ExcludeSuffixes != "tml.xml.text.txt" {
		t.Errorf("unexpected exclude_suffixes '%s'", cfg.ExcludeSuffixes)
	}
	if cfg.Disabled {
		t.Error("expected disabled to default to false")
	}
	if cfg.Watch.Enabled {
		t.Error("expected watch mode to default to off")
	}
}

func TestSuffixes(t *testing.T) {
	cfg := Default()

	want := []string{".tml", ".xml", ".text", ".txt"}
	got := cfg.Suffixes()
	if len(got) != len(want) {
		t.Fatalf("expected %d suffixes, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("suffix %d: expected '%s', got '%s'", i, want[i], got[i])
		}
	}

	cfg.ExcludeSuffixes = ""
	if got := cfg.Suffixes(); len(got) != 0 {
		t.Errorf("expected no suffixes for empty value, got %v", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if cfg.TagsFile != "tags" {
		t.Errorf("expected default tags_file, got '%s'", cfg.TagsFile)
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ctags_cmd: /usr/local/bin/uctags
tags_file: .tags
log_level: debug
watch:
  enabled: true
  debounce_window: 50ms
  max_batch_size: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.CtagsCmd != "/usr/local/bin/uctags" {
		t.Errorf("expected overridden ctags_cmd, got '%s'", cfg.CtagsCmd)
	}
	if cfg.TagsFile != ".tags" {
		t.Errorf("expected overridden tags_file, got '%s'", cfg.TagsFile)
	}
	if !cfg.Watch.Enabled {
		t.Error("expected watch enabled")
	}
	if cfg.Watch.DebounceWindow.Std() != 50*time.Millisecond {
		t.Errorf("expected 50ms debounce, got %v", cfg.Watch.DebounceWindow.Std())
	}
	if cfg.Watch.MaxBatchSize != 5 {
		t.Errorf("expected batch size 5, got %d", cfg.Watch.MaxBatchSize)
	}
	// Untouched fields keep their defaults.
	if cfg.ExcludeSuffixes != "tml.xml.text.txt" {
		t.Errorf("expected default exclude_suffixes, got '%s'", cfg.ExcludeSuffixes)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ctags_cmd: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestMerged(t *testing.T) {
	cfg := Default()

	if got := cfg.Merged(nil); got.CtagsCmd != "ctags" {
		t.Errorf("nil overrides should be a no-op, got '%s'", got.CtagsCmd)
	}

	cmd := "exuberant-ctags"
	stop := "/home/user/src"
	got := cfg.Merged(&protocol.Overrides{CtagsCmd: &cmd, StopAt: &stop})
	if got.CtagsCmd != "exuberant-ctags" {
		t.Errorf("expected merged ctags_cmd, got '%s'", got.CtagsCmd)
	}
	if got.StopAt != "/home/user/src" {
		t.Errorf("expected merged stop_at, got '%s'", got.StopAt)
	}
	if got.TagsFile != "tags" {
		t.Errorf("unset override must not change tags_file, got '%s'", got.TagsFile)
	}
	if cfg.CtagsCmd != "ctags" {
		t.Error("Merged must not mutate the receiver")
	}
}

func TestStopDir(t *testing.T) {
	cfg := Default()
	cfg.StopAt = "/tmp/project/"
	if got := cfg.StopDir(); got != "/tmp/project" {
		t.Errorf("expected cleaned stop dir, got '%s'", got)
	}

	cfg.StopAt = ""
	home, _ := os.UserHomeDir()
	if got := cfg.StopDir(); got != home {
		t.Errorf("expected home dir fallback, got '%s'", got)
	}
}
