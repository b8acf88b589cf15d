package locate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/logger"
)

var log = logger.ForComponent("locate")

// ErrNotFound means the ascent hit the filesystem root without finding a
// tags file and without crossing the stop boundary. Callers treat it as
// "nothing to do", not a failure.
var ErrNotFound = errors.New("no tags file found")

// Key identifies one physical tags file. Dir is the directory whose subtree
// the tags file covers; TagsFile is the absolute path of the file itself.
type Key struct {
	Dir      string
	TagsFile string
}

type Locator struct {
	tagsFile string
	tagsDir  string
	stopAt   string
}

func New(cfg *config.Config) *Locator {
	return &Locator{
		tagsFile: cfg.TagsFile,
		tagsDir:  cfg.TagsDir,
		stopAt:   cfg.StopDir(),
	}
}

// Locate walks up from the source file's directory looking for the nearest
// tags file. If the ascent reaches the stop boundary before finding one, an
// empty tags file is created there. The volume prefix is split off first so
// the ascent itself is platform-agnostic.
func (l *Locator) Locate(source string) (Key, error) {
	vol := filepath.VolumeName(source)
	dir := filepath.Dir(source[len(vol):])

	for {
		tagsDir := vol + dir
		candidate := filepath.Join(tagsDir, l.tagsDir, l.tagsFile)
		log.Debug("testing tags file", "candidate", candidate)

		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			return Key{Dir: tagsDir, TagsFile: candidate}, nil
		}

		if l.stopAt != "" && tagsDir == l.stopAt {
			log.Info("reached stop boundary, creating tags file", "path", candidate)
			f, err := os.OpenFile(candidate, os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return Key{}, fmt.Errorf("create tags file %s: %w", candidate, err)
			}
			f.Close()
			return Key{Dir: tagsDir, TagsFile: candidate}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			log.Debug("reached filesystem root without a tags file", "source", source)
			return Key{}, ErrNotFound
		}
		dir = parent
	}
}
