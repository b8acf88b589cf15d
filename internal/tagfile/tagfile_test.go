package tagfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeep(t *testing.T) {
	excluded := map[string]bool{"src/a.c": true}

	tests := []struct {
		name string
		line string
		want bool
	}{
		{"header", "!_TAG_FILE_SORTED\t1\t/0=unsorted/", true},
		{"header mentioning excluded", "!src/a.c", true},
		{"excluded source", "foo\tsrc/a.c\t/^void foo/;\"\tf", false},
		{"other source", "bar\tsrc/b.c\t/^int bar/;\"\tf", true},
		{"three fields only", "foo\tsrc/b.c\t/^void foo/", false},
		{"two fields", "foo\tsrc/b.c", false},
		{"empty", "", false},
		{"no tabs", "just some text", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Keep(tt.line, excluded); got != tt.want {
				t.Errorf("Keep(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestKeepMalformedDroppedForEmptySet(t *testing.T) {
	if Keep("foo\tsrc/a.c\t/pattern/", map[string]bool{}) {
		t.Error("malformed line must be dropped even with empty excluded set")
	}
}

func writeTags(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tags")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write tags: %v", err)
	}
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tags: %v", err)
	}
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestStripRemovesExcludedOnly(t *testing.T) {
	path := writeTags(t,
		"!_TAG_FILE_FORMAT\t2\t/extended format/",
		"bar\tsrc/b.c\t/^int bar/;\"\tf",
		"foo\tsrc/a.c\t/^void foo/;\"\tf",
		"quux\tsrc/b.c\t/^int quux/;\"\tf",
	)

	if err := Strip(path, map[string]bool{"src/a.c": true}); err != nil {
		t.Fatalf("strip failed: %v", err)
	}

	got := readLines(t, path)
	want := []string{
		"!_TAG_FILE_FORMAT\t2\t/extended format/",
		"bar\tsrc/b.c\t/^int bar/;\"\tf",
		"quux\tsrc/b.c\t/^int quux/;\"\tf",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestStripWorkedExample(t *testing.T) {
	path := writeTags(t,
		"foo\tsrc/a.c\t/^void foo/;\"\tf",
		"bar\tsrc/b.c\t/^int bar/;\"\tf",
	)

	if err := Strip(path, map[string]bool{"src/a.c": true}); err != nil {
		t.Fatalf("strip failed: %v", err)
	}

	got := readLines(t, path)
	if len(got) != 1 || got[0] != "bar\tsrc/b.c\t/^int bar/;\"\tf" {
		t.Errorf("expected only the bar line to survive, got %v", got)
	}
}

func TestStripIdempotent(t *testing.T) {
	path := writeTags(t,
		"!_TAG_FILE_SORTED\t1\t/0=unsorted/",
		"bar\tsrc/b.c\t/^int bar/;\"\tf",
		"foo\tsrc/a.c\t/^void foo/;\"\tf",
	)
	excluded := map[string]bool{"src/a.c": true}

	if err := Strip(path, excluded); err != nil {
		t.Fatalf("first strip failed: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if err := Strip(path, excluded); err != nil {
		t.Fatalf("second strip failed: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("strip is not idempotent:\nfirst:  %q\nsecond: %q", first, second)
	}
}

func TestStripDropsMalformedLines(t *testing.T) {
	path := writeTags(t,
		"truncated\tsrc/c.c",
		"bar\tsrc/b.c\t/^int bar/;\"\tf",
	)

	if err := Strip(path, map[string]bool{}); err != nil {
		t.Fatalf("strip failed: %v", err)
	}

	got := readLines(t, path)
	if len(got) != 1 || got[0] != "bar\tsrc/b.c\t/^int bar/;\"\tf" {
		t.Errorf("expected malformed line dropped, got %v", got)
	}
}

func TestStripTrimsTrailingWhitespace(t *testing.T) {
	path := writeTags(t, "bar\tsrc/b.c\t/^int bar/;\"\tf   ")

	if err := Strip(path, map[string]bool{}); err != nil {
		t.Fatalf("strip failed: %v", err)
	}

	got := readLines(t, path)
	if len(got) != 1 || got[0] != "bar\tsrc/b.c\t/^int bar/;\"\tf" {
		t.Errorf("expected right-trimmed line, got %q", got)
	}
}

func TestStripRemovesBackupOnSuccess(t *testing.T) {
	path := writeTags(t, "bar\tsrc/b.c\t/^int bar/;\"\tf")

	if err := Strip(path, map[string]bool{}); err != nil {
		t.Fatalf("strip failed: %v", err)
	}

	if _, err := os.Stat(path + BackupSuffix); !os.IsNotExist(err) {
		t.Errorf("expected backup to be removed, stat err = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the tags file to remain, got %v", entries)
	}
}

func TestStripMissingFile(t *testing.T) {
	if err := Strip(filepath.Join(t.TempDir(), "tags"), map[string]bool{}); err == nil {
		t.Error("expected error for missing tags file")
	}
}

func TestIsArtifact(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"tags.SAFE", true},
		{"TAGS.SAFE", true},
		{"tags.tmp-123456789", true},
		{"tags", false},
		{"a.c", false},
		{"safe.c", false},
		{"report.tmp-final", false},
		{"tags.tmp-", false},
	}
	for _, c := range cases {
		if got := IsArtifact(c.name); got != c.want {
			t.Errorf("IsArtifact(%q): expected %v, got %v", c.name, c.want, got)
		}
	}
}
