package ctags

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/logger"
)

var log = logger.ForComponent("ctags")

// ErrNotInstalled means the configured ctags executable could not be found
// on PATH.
var ErrNotInstalled = errors.New("ctags executable not found")

type Invoker struct{}

func New() *Invoker {
	return &Invoker{}
}

// Reindex runs the configured ctags command in append mode for the given
// sources. Sources are paths relative to the tags file's own directory (dir
// joined with any configured tags subdirectory) using '/' separators: the
// exact form ctags records in its source field, which is what keeps strip
// and append agreeing on the same names. Sources that no longer exist on
// disk are silently skipped; if none remain the call is a no-op and no
// process is started.
//
// Only a failure to start the process is an error. A nonzero exit or stderr
// output is logged and swallowed: ctags grumbles about plenty of inputs it
// still indexes.
func (iv *Invoker) Reindex(ctx context.Context, cfg *config.Config, dir string, sources []string) error {
	workDir := dir
	if cfg.TagsDir != "" {
		workDir = filepath.Join(dir, cfg.TagsDir)
	}

	srcs := existingFiles(workDir, sources)
	if len(srcs) == 0 {
		log.Debug("no surviving sources, skipping ctags", "dir", workDir)
		return nil
	}

	path, err := exec.LookPath(cfg.CtagsCmd)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotInstalled, cfg.CtagsCmd)
	}

	args := make([]string, 0, len(srcs)+3)
	if cfg.TagsFile != "" {
		args = append(args, "-f", cfg.TagsFile)
	}
	args = append(args, "-a")
	args = append(args, srcs...)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("running indexer", "cmd", path, "args", args, "dir", workDir)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cfg.CtagsCmd, err)
	}

	if err := cmd.Wait(); err != nil {
		log.Warn("indexer exited abnormally", "cmd", cfg.CtagsCmd, "error", err,
			"stderr", strings.TrimSpace(stderr.String()))
		return nil
	}

	forward(stdout.String(), "stdout")
	forward(stderr.String(), "stderr")
	return nil
}

// existingFiles keeps only sources that are still regular files under dir. A
// source can be deleted or renamed between the save event and the batch run,
// and a missing path would make ctags abort the whole invocation.
func existingFiles(dir string, sources []string) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		full := filepath.Join(dir, filepath.FromSlash(src))
		if fi, err := os.Stat(full); err == nil && fi.Mode().IsRegular() {
			out = append(out, src)
		} else {
			log.Debug("skipping missing source", "source", src)
		}
	}
	return out
}

func forward(output, stream string) {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		log.Debug("indexer output", "stream", stream, "line", line)
	}
}
