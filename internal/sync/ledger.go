package sync

import "sync"

// Ledger is the in-process deduplication guard. It only spans the current
// process lifetime; the authoritative dedup guarantee is the unique keys
// in the store.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// MarkSeen records id and reports whether it was new.
func (l *Ledger) MarkSeen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}
