package engine

import "sync"

// accountLocks serializes balance mutation per account. Order execution is
// read-modify-write over cash, margin and position rows, so user orders and
// monitor liquidations against the same account must not interleave.
// Cross-account executions run concurrently.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// get returns the mutex for an account, creating it on first use. Lock
// entries live for the process lifetime; accounts are never deleted.
func (l *accountLocks) get(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}
