package auditchain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fallback captures entries that could not be written to the chain so
// no decision is ever lost silently. It is a plain NDJSON file next to
// the chain, outside the hash links.
type Fallback struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFallback prepares a fallback log at path.
func NewFallback(path string, logger *slog.Logger) (*Fallback, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating fallback directory: %w", err)
	}
	return &Fallback{path: path, logger: logger}, nil
}

type fallbackRecord struct {
	DivertedAt time.Time `json:"diverted_at"`
	Cause      string    `json:"cause"`
	Entry      *Entry    `json:"entry"`
}

// Record preserves a diverted entry. Failures here are only logged;
// there is nowhere further to fall back to.
func (fb *Fallback) Record(e *Entry, cause error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	rec := fallbackRecord{
		DivertedAt: time.Now().UTC(),
		Cause:      cause.Error(),
		Entry:      e,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		fb.logger.Error("encoding fallback record", "entry_id", e.EntryID, "error", err)
		return
	}
	line = append(line, '\n')

	f, err := os.OpenFile(fb.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fb.logger.Error("opening fallback log", "path", fb.path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		fb.logger.Error("writing fallback record", "entry_id", e.EntryID, "error", err)
		return
	}
	if err := f.Sync(); err != nil {
		fb.logger.Error("syncing fallback log", "error", err)
	}
}
