package service

import "sync"

// propertyLocks hands out one mutex per property. Entries are dropped once no
// goroutine holds or waits for them.
type propertyLocks struct {
	mu    sync.Mutex
	locks map[int64]*propertyLock
}

type propertyLock struct {
	mu   sync.Mutex
	refs int
}

func newPropertyLocks() *propertyLocks {
	return &propertyLocks{locks: make(map[int64]*propertyLock)}
}

// lock blocks until the property is free and returns the unlock func.
func (l *propertyLocks) lock(propertyID int64) func() {
	l.mu.Lock()
	pl, ok := l.locks[propertyID]
	if !ok {
		pl = &propertyLock{}
		l.locks[propertyID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()

		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, propertyID)
		}
		l.mu.Unlock()
	}
}

func (l *propertyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
