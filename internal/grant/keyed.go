package grant

import (
	"sync"

	"github.com/google/uuid"
)

// userLocks hands out one mutex per user and forgets it once no caller holds
// or waits on it.
type userLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[uuid.UUID]*userLock{}
	}
	e := l.m[id]
	if e == nil {
		e = &userLock{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
