package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tagtools/autotagd/internal/logger"
)

var log = logger.ForComponent("journal")

// Outcomes recorded per update cycle.
const (
	OutcomeOK          = "ok"
	OutcomeStripFailed = "strip-failed"
	OutcomeIndexFailed = "index-failed"
	OutcomePanic       = "panic"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tags_file TEXT NOT NULL,
	sources TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);
`

// Cycle is one strip+reindex run for one tags file.
type Cycle struct {
	ID        int64
	TagsFile  string
	Sources   []string
	Outcome   string
	Detail    string
	Duration  time.Duration
	StartedAt time.Time
}

// Journal keeps a sqlite log of update cycles behind the status endpoint.
// It is bookkeeping only: callers treat Record failures as non-fatal.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Record(c Cycle) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO cycles (tags_file, sources, outcome, detail, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.TagsFile,
		strings.Join(c.Sources, "\n"),
		c.Outcome,
		c.Detail,
		c.Duration.Milliseconds(),
		c.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// Recent returns up to n cycles, newest first.
func (j *Journal) Recent(n int) ([]Cycle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT id, tags_file, sources, outcome, detail, duration_ms, started_at
		FROM cycles ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var sources string
		var durationMS int64
		if err := rows.Scan(&c.ID, &c.TagsFile, &sources, &c.Outcome, &c.Detail, &durationMS, &c.StartedAt); err != nil {
			return nil, err
		}
		if sources != "" {
			c.Sources = strings.Split(sources, "\n")
		}
		c.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	log.Debug("closing journal")
	return j.db.Close()
}
