// Package ledger persists the set of message IDs already committed to
// the destination sheet. It is the authority on what has been
// processed: an ID in the ledger means its row exists downstream.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrCorrupt marks a state file that exists but cannot be parsed.
// A corrupt ledger is fatal: resetting it silently would forget prior
// commits and duplicate every message still marked unread.
var ErrCorrupt = errors.New("ledger state corrupt")

// Ledger is the durable record of committed message IDs. Entries are
// added, never removed, by normal operation.
type Ledger struct {
	path        string
	ids         map[string]struct{}
	lastUpdated time.Time
	clock       func() time.Time
}

type snapshot struct {
	ProcessedIDs []string  `json:"processed_ids"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Load reads the ledger at path. A missing file yields an empty
// ledger; an unparseable file fails with ErrCorrupt and requires
// operator intervention.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, ids: map[string]struct{}{}, clock: time.Now}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for _, id := range snap.ProcessedIDs {
		l.ids[id] = struct{}{}
	}
	l.lastUpdated = snap.LastUpdated
	return l, nil
}

// Contains reports whether id has already been committed.
func (l *Ledger) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Record adds id to the in-memory ledger. Recording an existing id is
// a no-op. The change is not durable until Persist succeeds.
func (l *Ledger) Record(id string) {
	if _, ok := l.ids[id]; ok {
		return
	}
	l.ids[id] = struct{}{}
	l.lastUpdated = l.clock()
}

// Len returns the number of recorded ids.
func (l *Ledger) Len() int { return len(l.ids) }

// IDs returns the recorded ids in sorted order.
func (l *Ledger) IDs() []string {
	out := make([]string, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastUpdated returns the timestamp of the most recent Record, or the
// persisted timestamp after Load.
func (l *Ledger) LastUpdated() time.Time { return l.lastUpdated }

// Persist atomically replaces the state file with the current ledger.
// The snapshot goes to a temp file in the same directory and is renamed
// into place, so a crash mid-write leaves the previous snapshot intact.
func (l *Ledger) Persist() error {
	snap := snapshot{ProcessedIDs: l.IDs(), LastUpdated: l.lastUpdated}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close ledger temp: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
