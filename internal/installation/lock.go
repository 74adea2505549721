package installation

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"ssepush-lite/internal/pusherr"
)

// UpdateLock serializes re-registration. It never blocks: Acquire fails with
// pusherr.ErrLockContention while the lock is held, including by the caller
// itself. Release may be called from any goroutine and is a no-op when the
// lock is free.
type UpdateLock struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	held bool
}

func NewUpdateLock() *UpdateLock {
	return &UpdateLock{sem: semaphore.NewWeighted(1)}
}

func (l *UpdateLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sem.TryAcquire(1) {
		return pusherr.ErrLockContention
	}
	l.held = true
	return nil
}

func (l *UpdateLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	l.sem.Release(1)
}

// Held reports whether the lock is currently taken.
func (l *UpdateLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
