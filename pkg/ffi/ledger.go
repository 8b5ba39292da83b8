package ffi

import "sync"

// Ledger tracks native string allocations handed to the host so that only
// pointers issued here are ever freed, and each at most once.
type Ledger struct {
	mu   sync.Mutex
	live map[uintptr]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{live: make(map[uintptr]struct{})}
}

// Track records p as issued. A zero pointer is ignored.
func (l *Ledger) Track(p uintptr) {
	if p == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live[p] = struct{}{}
}

// Release forgets p and reports whether it was outstanding. The caller
// frees p only when Release returns true.
func (l *Ledger) Release(p uintptr) bool {
	if p == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live[p]; !ok {
		return false
	}
	delete(l.live, p)
	return true
}

// Outstanding returns the number of issued pointers not yet released.
func (l *Ledger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}
