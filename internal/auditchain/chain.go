// Package auditchain persists gate decisions as a hash-linked, signed,
// append-only NDJSON log. Each entry carries the SHA-256 of its
// predecessor, so any retroactive edit breaks every later link.
package auditchain

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vetgate/vetgate/internal/model"
)

// GenesisHash anchors the first entry of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one decision record in the chain.
type Entry struct {
	EntryID      string             `json:"entry_id"`
	Timestamp    time.Time          `json:"timestamp"`
	PreviousHash string             `json:"previous_hash"`
	CurrentHash  string             `json:"current_hash"`
	Context      json.RawMessage    `json:"context"`
	GateResults  []model.GateResult `json:"gate_results"`
	Outcome      model.Outcome      `json:"outcome"`
	Signature    string             `json:"signature"`
}

// computeHash derives the entry hash from every field that makes the
// decision what it is. The inputs are canonical JSON, so recomputing
// after a round trip through the file yields the same digest.
func computeHash(entryID string, ts time.Time, previousHash string, contextJSON, resultsJSON []byte, outcome model.Outcome) string {
	h := sha256.New()
	h.Write([]byte(entryID))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(previousHash))
	h.Write(contextJSON)
	h.Write(resultsJSON)
	h.Write([]byte(outcome))
	return hex.EncodeToString(h.Sum(nil))
}

// Chain appends entries to a single NDJSON file. All writes go through
// one mutex; there is exactly one writer per file.
type Chain struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	lastHash string
	length   int
	key      ed25519.PrivateKey
	fallback *Fallback
	logger   *slog.Logger
}

// Open opens (or creates) the chain file at path and recovers the tail
// hash from the last line. The private key signs every new entry.
func Open(path string, key ed25519.PrivateKey, fallback *Fallback, logger *slog.Logger) (*Chain, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating chain directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening chain file: %w", err)
	}

	c := &Chain{
		path:     path,
		f:        f,
		lastHash: GenesisHash,
		key:      key,
		fallback: fallback,
		logger:   logger,
	}

	if err := c.recoverTail(); err != nil {
		if cerr := f.Close(); cerr != nil {
			return nil, fmt.Errorf("recovering chain tail: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("recovering chain tail: %w", err)
	}

	return c, nil
}

// recoverTail scans the file and remembers the hash of the final entry.
func (c *Chain) recoverTail() error {
	if _, err := c.f.Seek(0, 0); err != nil {
		return err
	}

	sc := bufio.NewScanner(c.f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEntryBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("entry %d is not valid JSON: %w", c.length, err)
		}
		c.lastHash = e.CurrentHash
		c.length++
	}
	return sc.Err()
}

const maxEntryBytes = 4 * 1024 * 1024

// Append records one decision and returns the written entry. On a
// write failure the entry is preserved in the fallback log and the
// error is returned so the caller can fail closed.
func (c *Chain) Append(sc *model.SecurityContext, results []model.GateResult, outcome model.Outcome) (*Entry, error) {
	contextJSON := model.CanonicalContext(sc)
	resultsJSON := model.CanonicalResults(results)

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{
		EntryID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		PreviousHash: c.lastHash,
		Context:      contextJSON,
		GateResults:  results,
		Outcome:      outcome,
	}
	e.CurrentHash = computeHash(e.EntryID, e.Timestamp, e.PreviousHash, contextJSON, resultsJSON, outcome)
	e.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(c.key, []byte(e.CurrentHash)))

	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding chain entry: %w", err)
	}
	line = append(line, '\n')

	if err := c.writeLine(line); err != nil {
		c.logger.Error("chain write failed, diverting to fallback log",
			"entry_id", e.EntryID, "error", err)
		if c.fallback != nil {
			c.fallback.Record(e, err)
		}
		return nil, fmt.Errorf("appending chain entry: %w", err)
	}

	c.lastHash = e.CurrentHash
	c.length++
	return e, nil
}

func (c *Chain) writeLine(line []byte) error {
	if _, err := c.f.Write(line); err != nil {
		return err
	}
	return c.f.Sync()
}

// LastHash returns the hash of the most recent entry, or GenesisHash
// for an empty chain.
func (c *Chain) LastHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// Length returns the number of entries written so far.
func (c *Chain) Length() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Path returns the chain file location.
func (c *Chain) Path() string {
	return c.path
}

// Close flushes and closes the chain file.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("syncing chain file: %w", err)
	}
	return c.f.Close()
}
