package governor

import (
	"sort"
	"sync"
	"time"
)

// Ledger is the activity history of a single account. It is only ever
// touched through Store.Update, which serializes access per account.
type Ledger struct {
	events map[Category][]time.Time
	// total mirrors every recorded event regardless of category.
	total        []time.Time
	sessionStart time.Time
	lastActivity time.Time
}

func newLedger() *Ledger {
	return &Ledger{events: make(map[Category][]time.Time)}
}

// prune drops everything older than the day window.
func (l *Ledger) prune(now time.Time) {
	cutoff := now.Add(-dayWindow)
	for cat, ts := range l.events {
		l.events[cat] = dropBefore(ts, cutoff)
	}
	l.total = dropBefore(l.total, cutoff)
}

func (l *Ledger) append(cat Category, at time.Time) {
	l.events[cat] = insertSorted(l.events[cat], at)
	l.total = insertSorted(l.total, at)
	if at.After(l.lastActivity) {
		l.lastActivity = at
	}
	if cat == CategoryLogin {
		l.sessionStart = at
	}
}

// since counts entries strictly after the cutoff.
func since(ts []time.Time, cutoff time.Time) int {
	return len(ts) - sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
}

// oldestAfter returns the oldest entry strictly after the cutoff.
func oldestAfter(ts []time.Time, cutoff time.Time) (time.Time, bool) {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i == len(ts) {
		return time.Time{}, false
	}
	return ts[i], true
}

func last(ts []time.Time) (time.Time, bool) {
	if len(ts) == 0 {
		return time.Time{}, false
	}
	return ts[len(ts)-1], true
}

// insertSorted keeps ts ordered even if the wall clock steps backwards.
func insertSorted(ts []time.Time, at time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(at) })
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = at
	return ts
}

func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

// Store holds ledgers partitioned by account key.
type Store interface {
	// Update runs fn with exclusive access to the account's ledger, creating it if needed.
	Update(account string, fn func(*Ledger))
	// Forget drops all state for the account.
	Forget(account string)
	// Accounts lists the accounts with state, sorted.
	Accounts() []string
}

type memoryEntry struct {
	mu     sync.Mutex
	ledger *Ledger
}

// MemoryStore is the in-process Store. State is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) entry(account string) *memoryEntry {
	s.mu.RLock()
	e, ok := s.entries[account]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[account]; ok {
		return e
	}
	e = &memoryEntry{ledger: newLedger()}
	s.entries[account] = e
	return e
}

// Update implements Store.
func (s *MemoryStore) Update(account string, fn func(*Ledger)) {
	e := s.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.ledger)
}

// Forget implements Store.
func (s *MemoryStore) Forget(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, account)
}

// Accounts implements Store.
func (s *MemoryStore) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
