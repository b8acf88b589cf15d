package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/journal"
	"github.com/tagtools/autotagd/internal/locate"
	"github.com/tagtools/autotagd/internal/logger"
	"github.com/tagtools/autotagd/internal/tagfile"
)

var log = logger.ForComponent("coordinator")

// Indexer regenerates tags entries for sources under dir. Satisfied by
// *ctags.Invoker; tests substitute stubs.
type Indexer interface {
	Reindex(ctx context.Context, cfg *config.Config, dir string, sources []string) error
}

// Recorder persists completed cycles. Satisfied by *journal.Journal.
type Recorder interface {
	Record(c journal.Cycle) error
}

// batch is the pending work for one tags file. The config active when the
// first source was reported governs the whole batch.
type batch struct {
	cfg     *config.Config
	entries []string
}

// Coordinator groups reported source files by their tags file and runs one
// worker per tags file at flush time. Per-key locks live for the process
// lifetime so overlapping flush cycles against the same tags file serialize;
// the locks map itself is only ever touched under mu.
type Coordinator struct {
	cfg     *config.Config
	indexer Indexer
	rec     Recorder

	mu      sync.Mutex
	locks   map[locate.Key]*sync.Mutex
	pending map[locate.Key]*batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, indexer Indexer, rec Recorder) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:     cfg,
		indexer: indexer,
		rec:     rec,
		locks:   make(map[locate.Key]*sync.Mutex),
		pending: make(map[locate.Key]*batch),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddSource notes a saved source file for the next flush. Empty paths, the
// tags file itself, and excluded suffixes are ignored. cfg carries any
// per-event overrides; pass nil for the coordinator's own config.
func (c *Coordinator) AddSource(cfg *config.Config, source string) {
	if cfg == nil {
		cfg = c.cfg
	}
	if source == "" {
		log.Warn("no source path")
		return
	}
	base := filepath.Base(source)
	if base == cfg.TagsFile {
		log.Debug("ignoring the tags file itself", "path", source)
		return
	}
	if tagfile.IsArtifact(base) {
		log.Debug("ignoring strip artifact", "path", source)
		return
	}
	ext := filepath.Ext(source)
	for _, suffix := range cfg.Suffixes() {
		if ext == suffix {
			log.Debug("ignoring excluded suffix", "path", source, "suffix", suffix)
			return
		}
	}

	key, err := locate.New(cfg).Locate(source)
	if errors.Is(err, locate.ErrNotFound) {
		log.Debug("no tags file for source", "path", source)
		return
	}
	if err != nil {
		log.Error("tags file lookup failed", "path", source, "error", err)
		return
	}

	// Entries are relative to the tags file's own directory, the exact
	// form ctags later records in its source field. Strip and append have
	// to agree on this one spelling or stale entries survive forever.
	entryBase := key.Dir
	if cfg.TagsDir != "" {
		entryBase = filepath.Join(key.Dir, cfg.TagsDir)
	}
	entry, err := filepath.Rel(entryBase, source)
	if err != nil {
		log.Error("cannot relativize source", "path", source, "dir", entryBase, "error", err)
		return
	}
	entry = filepath.ToSlash(entry)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.locks[key]; !ok {
		c.locks[key] = &sync.Mutex{}
	}
	b := c.pending[key]
	if b == nil {
		b = &batch{cfg: cfg}
		c.pending[key] = b
	}
	b.entries = append(b.entries, entry)
	log.Info("queued source", "tags", key.TagsFile, "entry", entry)
}

// Flush dispatches one worker goroutine per pending tags file and returns
// the number of workers started. It does not wait for them: the save path
// must never block on indexing. Workers for different tags files run
// unordered; workers for the same tags file serialize on its lock.
func (c *Coordinator) Flush() int {
	c.mu.Lock()
	work := c.pending
	c.pending = make(map[locate.Key]*batch)
	lks := make(map[locate.Key]*sync.Mutex, len(work))
	for key := range work {
		lks[key] = c.locks[key]
	}
	c.mu.Unlock()

	for key, b := range work {
		c.wg.Add(1)
		go c.update(key, lks[key], b)
	}
	return len(work)
}

// update is the per-tags-file worker: strip stale entries, then reindex the
// survivors, all under the key's lock. Failures are contained to this key
// and recorded; Strip's backup discipline guarantees the tags file stays
// valid whatever happens here.
func (c *Coordinator) update(key locate.Key, lk *sync.Mutex, b *batch) {
	defer c.wg.Done()

	start := time.Now()
	outcome, detail := c.runCycle(key, lk, b)

	c.record(journal.Cycle{
		TagsFile:  key.TagsFile,
		Sources:   b.entries,
		Outcome:   outcome,
		Detail:    detail,
		Duration:  time.Since(start),
		StartedAt: start,
	})
}

// runCycle does the strip and reindex under the key's lock. The lock is
// released on every exit path, panics included, so a blown-up cycle cannot
// wedge its tags file for the rest of the process.
func (c *Coordinator) runCycle(key locate.Key, lk *sync.Mutex, b *batch) (outcome, detail string) {
	lk.Lock()
	defer lk.Unlock()
	defer func() {
		if r := recover(); r != nil {
			outcome = journal.OutcomePanic
			detail = fmt.Sprint(r)
			log.Error("update worker panicked", "tags", key.TagsFile,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	excluded := make(map[string]bool, len(b.entries))
	for _, e := range b.entries {
		excluded[e] = true
	}

	if err := tagfile.Strip(key.TagsFile, excluded); err != nil {
		log.Error("strip failed, skipping reindex", "tags", key.TagsFile, "error", err)
		return journal.OutcomeStripFailed, err.Error()
	}
	if err := c.indexer.Reindex(c.ctx, b.cfg, key.Dir, b.entries); err != nil {
		log.Error("reindex failed", "tags", key.TagsFile, "error", err)
		return journal.OutcomeIndexFailed, err.Error()
	}
	return journal.OutcomeOK, ""
}

func (c *Coordinator) record(cy journal.Cycle) {
	if c.rec == nil {
		return
	}
	if err := c.rec.Record(cy); err != nil {
		log.Warn("journal write failed", "error", err)
	}
}

// KeysSeen reports how many distinct tags files have been resolved so far.
func (c *Coordinator) KeysSeen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// Wait blocks until all dispatched workers finish. Used by the daemon's
// shutdown drain and by tests; the save path never calls it.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels any running indexer subprocesses and waits the workers out.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}
