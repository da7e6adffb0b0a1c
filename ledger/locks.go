package ledger

import "sync"

// Locks serializes work per customer. Different customers never block each
// other. Entries are dropped when the last holder releases them.
type Locks struct {
	mu      sync.Mutex
	entries map[CustomerID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[CustomerID]*lockEntry)}
}

// Lock blocks until the customer's lock is held and returns its release func.
func (l *Locks) Lock(id CustomerID) (unlock func()) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, id)
			}
			l.mu.Unlock()
		})
	}
}

// held returns how many callers hold or wait on id. Tests only.
func (l *Locks) held(id CustomerID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		return e.refs
	}
	return 0
}
