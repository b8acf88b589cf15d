package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tagtools/autotagd/pkg/protocol"
)

// Duration wraps time.Duration so YAML values like "300ms" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type WatchConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Roots          []string `yaml:"roots"`
	DebounceWindow Duration `yaml:"debounce_window"`
	MaxBatchSize   int      `yaml:"max_batch_size"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
	WatchHidden    bool     `yaml:"watch_hidden"`
}

type Config struct {
	ExcludeSuffixes string      `yaml:"exclude_suffixes"`
	LogLevel        string      `yaml:"log_level"`
	LogFile         string      `yaml:"log_file"`
	CtagsCmd        string      `yaml:"ctags_cmd"`
	TagsFile        string      `yaml:"tags_file"`
	TagsDir         string      `yaml:"tags_dir"`
	Disabled        bool        `yaml:"disabled"`
	StopAt          string      `yaml:"stop_at"`
	SocketPath      string      `yaml:"socket_path"`
	PIDPath         string      `yaml:"pid_path"`
	JournalPath     string      `yaml:"journal_path"`
	Watch           WatchConfig `yaml:"watch"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".autotagd")

	return &Config{
		ExcludeSuffixes: "tml.xml.text.txt",
		LogLevel:        "warn",
		LogFile:         "",
		CtagsCmd:        "ctags",
		TagsFile:        "tags",
		TagsDir:         "",
		Disabled:        false,
		StopAt:          "",
		SocketPath:      filepath.Join(stateDir, "autotagd.sock"),
		PIDPath:         filepath.Join(stateDir, "autotagd.pid"),
		JournalPath:     filepath.Join(stateDir, "journal.db"),
		Watch: WatchConfig{
			Enabled:        false,
			DebounceWindow: Duration(300 * time.Millisecond),
			MaxBatchSize:   100,
			IgnorePatterns: []string{
				"**/.git/**",
				"**/node_modules/**",
				"**/.idea/**",
				"**/dist/**",
				"**/build/**",
				"**/__pycache__/**",
				"**/.venv/**",
				"**/vendor/**",
			},
			WatchHidden: false,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merged returns a copy of c with any non-nil override applied. This is the
// per-event counterpart to the file-level defaults: an editor may ask for a
// different ctags binary or tags filename for a single save.
func (c Config) Merged(o *protocol.Overrides) Config {
	if o == nil {
		return c
	}
	if o.CtagsCmd != nil {
		c.CtagsCmd = *o.CtagsCmd
	}
	if o.TagsFile != nil {
		c.TagsFile = *o.TagsFile
	}
	if o.TagsDir != nil {
		c.TagsDir = *o.TagsDir
	}
	if o.StopAt != nil {
		c.StopAt = *o.StopAt
	}
	if o.ExcludeSuffixes != nil {
		c.ExcludeSuffixes = *o.ExcludeSuffixes
	}
	return c
}

// Suffixes expands the dot-joined ExcludeSuffixes value into extensions,
// ".tml" ".xml" and so on, matching the form filepath.Ext returns.
func (c *Config) Suffixes() []string {
	if c.ExcludeSuffixes == "" {
		return nil
	}
	parts := strings.Split(c.ExcludeSuffixes, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, "."+p)
	}
	return out
}

// StopDir resolves the auto-create boundary, defaulting to the home
// directory when unset.
func (c *Config) StopDir() string {
	if c.StopAt != "" {
		return filepath.Clean(c.StopAt)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return homeDir
}

func (c *Config) EnsureStateDir() error {
	return os.MkdirAll(filepath.Dir(c.SocketPath), 0700)
}
