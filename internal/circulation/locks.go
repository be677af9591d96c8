package circulation

import (
	"sync"

	"github.com/google/uuid"
)

// idLocks hands out one mutex per book or reader ID. Entries are reference
// counted and dropped once no goroutine holds or waits for them.
type idLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[uuid.UUID]*idLock)}
}

// lock blocks until the caller owns the mutex for id and returns the unlock func
func (l *idLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	bl, ok := l.locks[id]
	if !ok {
		bl = &idLock{}
		l.locks[id] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.Lock()

	return func() {
		bl.Unlock()

		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live entries
func (l *idLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
