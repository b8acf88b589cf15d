package tagfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tagtools/autotagd/internal/logger"
)

var log = logger.ForComponent("tagfile")

// BackupSuffix is appended to the tags file path for the pre-image copy
// kept while a strip is in flight.
const BackupSuffix = ".SAFE"

// Tags lines carry search patterns that can be arbitrarily long.
const maxLineSize = 1024 * 1024

// IsArtifact reports whether name is one of Strip's working files next to a
// tags file, the .SAFE backup or an in-flight temp file. Save handling must
// never treat those as source files: a watcher would otherwise chase the
// strip's own writes forever.
func IsArtifact(name string) bool {
	if strings.HasSuffix(name, BackupSuffix) {
		return true
	}
	i := strings.LastIndex(name, ".tmp-")
	if i < 0 {
		return false
	}
	rest := name[i+len(".tmp-"):]
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Strip rewrites the tags file in place, dropping every data line whose
// source field is in excluded. Each surviving line is right-trimmed.
//
// The rewrite is crash-safe: the pre-image is copied to a .SAFE backup, the
// filtered content goes to a temp file in the same directory which is synced
// and then renamed over the original. The backup is removed only after the
// rename succeeds, and removal failure is not an error.
func Strip(path string, excluded map[string]bool) error {
	log.Info("stripping tags", "file", path, "sources", len(excluded))

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tags file: %w", err)
	}
	defer in.Close()

	backup := path + BackupSuffix
	if err := copyFile(path, backup); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := filterTo(tmp, in, excluded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace tags file: %w", err)
	}

	if err := os.Remove(backup); err != nil {
		log.Warn("could not remove backup", "path", backup, "error", err)
	}
	return nil
}

func filterTo(dst io.Writer, src io.Reader, excluded map[string]bool) error {
	w := bufio.NewWriter(dst)
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if !Keep(line, excluded) {
			continue
		}
		if _, err := w.WriteString(line); err != nil {
			return fmt.Errorf("write filtered line: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write filtered line: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read tags file: %w", err)
	}
	return w.Flush()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
