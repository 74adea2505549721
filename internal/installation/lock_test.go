package installation

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"ssepush-lite/internal/pusherr"
)

func TestUpdateLock_NonReentrant(t *testing.T) {
	l := NewUpdateLock()
	require.NoError(t, l.Acquire())
	require.ErrorIs(t, l.Acquire(), pusherr.ErrLockContention)
	require.True(t, l.Held())

	l.Release()
	l.Release()
	l.Release()
	require.False(t, l.Held())
	require.NoError(t, l.Acquire())
}

func TestUpdateLock_ReleaseFromOtherGoroutine(t *testing.T) {
	l := NewUpdateLock()
	require.NoError(t, l.Acquire())

	done := make(chan struct{})
	go func() {
		l.Release()
		close(done)
	}()
	<-done
	require.NoError(t, l.Acquire())
}

func TestUpdateLock_ConcurrentAcquire(t *testing.T) {
	l := NewUpdateLock()
	var won atomic.Int32

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			err := l.Acquire()
			if err == nil {
				won.Add(1)
				return nil
			}
			if !errors.Is(err, pusherr.ErrLockContention) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), won.Load())
}

func TestService_LockIsShared(t *testing.T) {
	l := NewUpdateLock()
	a, _, _ := newTestService(t)
	b := New(a.store, &fakeExecutor{}, WithLock(l))
	c := New(a.store, &fakeExecutor{}, WithLock(l))

	require.NoError(t, b.AcquireLock())
	require.ErrorIs(t, c.AcquireLock(), pusherr.ErrLockContention)
	require.NoError(t, a.AcquireLock(), "separate lock should be independent")
	a.ReleaseLock()

	b.ReleaseLock()
	require.NoError(t, c.AcquireLock())
	c.ReleaseLock()
}
