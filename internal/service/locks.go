package service

import (
	"context"
	"sync"
)

// accountLocks serializes check-then-act sequences per account. Accounts never contend with each other.
// An entry lives only while its lock is held or awaited.
type accountLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{} // size 1
	refs int
}

func (l *accountLocks) acquire(accountID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[string]*lockEntry)
	}
	e, ok := l.m[accountID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.m[accountID] = e
	}
	e.refs++
	return e
}

func (l *accountLocks) release(accountID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, accountID)
	}
}

// lock blocks until the account is free or ctx is done.
func (l *accountLocks) lock(ctx context.Context, accountID string) (func(), error) {
	e := l.acquire(accountID)
	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.release(accountID, e)
		}, nil
	case <-ctx.Done():
		l.release(accountID, e)
		return nil, ctx.Err()
	}
}

// size is the number of accounts currently locked or awaited.
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
