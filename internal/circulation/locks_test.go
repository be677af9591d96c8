package circulation

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestBookLocks_SerializesOneBook(t *testing.T) {
	locks := newIDLocks()
	id := uuid.New()

	var inside, maxInside atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			unlock := locks.lock(id)
			defer unlock()

			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, locks.size())
}

func TestBookLocks_DifferentBooksDoNotBlock(t *testing.T) {
	locks := newIDLocks()

	unlockA := locks.lock(uuid.New())
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.lock(uuid.New())
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another book blocked")
	}
}
