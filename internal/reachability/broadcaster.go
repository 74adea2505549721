// Package reachability reports network availability changes to subscribers.
package reachability

import "sync"

// Handler receives true when the network became available and false when it
// went away.
type Handler func(available bool)

// Notifier is the subscription side of an availability source.
type Notifier interface {
	Subscribe(h Handler) (unsubscribe func())
}

type subscriber struct {
	handle Handler
}

// Broadcaster fans availability transitions out to its subscribers. The
// network is assumed available until told otherwise.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[*subscriber]struct{}
	available bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{}), available: true}
}

func (b *Broadcaster) Subscribe(h Handler) func() {
	s := &subscriber{handle: h}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		})
	}
}

// Publish records the current availability and notifies subscribers if it
// changed. It reports whether a notification was sent.
func (b *Broadcaster) Publish(available bool) bool {
	b.mu.Lock()
	if b.available == available {
		b.mu.Unlock()
		return false
	}
	b.available = available
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.handle(available)
	}
	return true
}

func (b *Broadcaster) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
