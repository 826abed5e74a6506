// Package journal is an append-only, hash-chained log of applied kernel
// records. Each entry commits to its predecessor; nothing is ever mutated
// or removed.
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
)

// Genesis is the head hash of an empty journal.
const Genesis = "genesis"

// Entry is an immutable, hash-chained entry.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	EntryType   string         `json:"entry_type"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Author      string         `json:"author,omitempty"`
	Data        map[string]any `json:"data"`
}

// Journal is an append-only, hash-chained log.
type Journal struct {
	mu       sync.RWMutex
	name     string
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// New creates an empty journal.
func New(name string) *Journal {
	return &Journal{
		name:     name,
		entries:  make([]Entry, 0),
		headHash: Genesis,
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

func contentHash(seq uint64, entryType string, data map[string]any, prev string) (string, error) {
	h, err := canonicalize.Hash(struct {
		Seq      uint64         `json:"seq"`
		Type     string         `json:"type"`
		Data     map[string]any `json:"data"`
		PrevHash string         `json:"prev"`
	}{seq, entryType, data, prev})
	if err != nil {
		return "", err
	}
	return "sha256:" + h, nil
}

// Append adds an entry and returns its sequence number.
func (j *Journal) Append(entryType, author string, data map[string]any) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := uint64(len(j.entries)) + 1
	hash, err := contentHash(seq, entryType, data, j.headHash)
	if err != nil {
		return 0, fmt.Errorf("journal %s: hash entry: %w", j.name, err)
	}

	j.entries = append(j.entries, Entry{
		Sequence:    seq,
		EntryType:   entryType,
		ContentHash: hash,
		PrevHash:    j.headHash,
		Timestamp:   j.clock(),
		Author:      author,
		Data:        data,
	})
	j.headHash = hash
	return seq, nil
}

// Get retrieves an entry by sequence number.
func (j *Journal) Get(seq uint64) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if seq == 0 || seq > uint64(len(j.entries)) {
		return nil, fmt.Errorf("journal %s: entry %d not found", j.name, seq)
	}
	e := j.entries[seq-1]
	return &e, nil
}

// Head returns the current head hash.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headHash
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Entries returns a copy of all entries.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Entry(nil), j.entries...)
}

// Clone returns an independent copy sharing no mutable state.
func (j *Journal) Clone() *Journal {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &Journal{
		name:     j.name,
		entries:  append([]Entry(nil), j.entries...),
		headHash: j.headHash,
		clock:    j.clock,
	}
}

// Restore replaces the journal contents with entries after verifying them.
func (j *Journal) Restore(entries []Entry) error {
	tmp := &Journal{name: j.name, entries: entries}
	if err := tmp.Verify(); err != nil {
		return err
	}
	head := Genesis
	if len(entries) > 0 {
		head = entries[len(entries)-1].ContentHash
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append([]Entry(nil), entries...)
	j.headHash = head
	return nil
}

// Verify checks the integrity of the whole chain.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prev := Genesis
	for i, e := range j.entries {
		if e.PrevHash != prev {
			return fmt.Errorf("journal %s: chain broken at entry %d: expected prev %s, got %s", j.name, i+1, prev, e.PrevHash)
		}
		computed, err := contentHash(e.Sequence, e.EntryType, e.Data, e.PrevHash)
		if err != nil {
			return fmt.Errorf("journal %s: hash entry %d: %w", j.name, i+1, err)
		}
		if computed != e.ContentHash {
			return fmt.Errorf("journal %s: hash mismatch at entry %d", j.name, i+1)
		}
		prev = e.ContentHash
	}
	return nil
}
