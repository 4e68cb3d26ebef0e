package auditchain

import (
	"bufio"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vetgate/vetgate/internal/model"
)

// VerifyReport is the result of walking a chain file.
type VerifyReport struct {
	Valid      bool   `json:"valid"`
	Entries    int    `json:"entries"`
	TamperedAt int    `json:"tampered_at"` // index of the first bad entry, -1 when valid
	Reason     string `json:"reason,omitempty"`
}

// VerifyFile replays the chain at path and checks, for every entry,
// the previous-hash link, the recomputed content hash, and the Ed25519
// signature. It stops at the first failure and reports its index.
func VerifyFile(path string, pub ed25519.PublicKey) (VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("opening chain file: %w", err)
	}
	defer func() { _ = f.Close() }()

	report := VerifyReport{Valid: true, TamperedAt: -1}
	expectPrev := GenesisHash

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEntryBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		idx := report.Entries

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return tampered(idx, report.Entries, fmt.Sprintf("entry is not valid JSON: %v", err)), nil
		}

		if e.PreviousHash != expectPrev {
			return tampered(idx, report.Entries, "previous-hash link broken"), nil
		}

		recomputed := computeHash(e.EntryID, e.Timestamp, e.PreviousHash,
			e.Context, model.CanonicalResults(e.GateResults), e.Outcome)
		if recomputed != e.CurrentHash {
			return tampered(idx, report.Entries, "content hash mismatch"), nil
		}

		sig, err := base64.StdEncoding.DecodeString(e.Signature)
		if err != nil || !ed25519.Verify(pub, []byte(e.CurrentHash), sig) {
			return tampered(idx, report.Entries, "signature invalid"), nil
		}

		expectPrev = e.CurrentHash
		report.Entries++
	}
	if err := sc.Err(); err != nil {
		return VerifyReport{}, fmt.Errorf("reading chain file: %w", err)
	}

	return report, nil
}

func tampered(idx, entries int, reason string) VerifyReport {
	return VerifyReport{Valid: false, Entries: entries, TamperedAt: idx, Reason: reason}
}

// ReadAll decodes every entry in the chain file without verifying it.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chain file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEntryBytes)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decoding entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading chain file: %w", err)
	}
	return entries, nil
}
