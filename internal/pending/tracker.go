// Package pending deduplicates on-chain transfers that have been submitted but
// not yet confirmed.
package pending

import (
	"math/big"
	"sync"
	"time"
)

// Window is the number of blocks an entry stays in flight after submission.
const Window = 2

// Entry is one outstanding transfer.
type Entry struct {
	Block       uint64
	Hash        string
	Amount      *big.Int // gross value leaving the source address, fee included
	SubmittedAt time.Time
}

// Tracker is the single admission gate for on-chain transfers per key. Keys
// are account ids for sweeps and destination addresses for withdrawals.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// TryBegin records a new entry for key and returns true, or returns false if
// an entry submitted within the last Window blocks exists.
func (t *Tracker) TryBegin(key string, current uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		if current < e.Block+Window {
			return false
		}
		delete(t.entries, key)
	}

	t.entries[key] = &Entry{Block: current, SubmittedAt: time.Now()}
	return true
}

// Complete attaches the submitted hash and gross amount to key's entry.
func (t *Tracker) Complete(key, hash string, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		e.Hash = hash
		e.Amount = new(big.Int).Set(amount)
	}
}

// Release drops key's entry, used when the submission itself failed.
func (t *Tracker) Release(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// InFlight returns a copy of key's entry if it is still inside its window.
func (t *Tracker) InFlight(key string, current uint64) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	if current >= e.Block+Window {
		delete(t.entries, key)
		return Entry{}, false
	}

	out := *e
	if e.Amount != nil {
		out.Amount = new(big.Int).Set(e.Amount)
	}
	return out, true
}

// Sweep purges every entry whose window has passed and returns the number
// removed. It uses the same bound as InFlight so a purge never reopens a
// transfer that TryBegin would still refuse.
func (t *Tracker) Sweep(current uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key, e := range t.entries {
		if current >= e.Block+Window {
			delete(t.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
