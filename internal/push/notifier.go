// Package push delivers best-effort "log changed" wake-ups to local
// subscribers.
//
// Notifications are advisory: delivery is at-least-once, duplicates coalesce,
// and a subscriber that misses one still converges through its poll loop.
// Sources (a filesystem watcher on a local log, a webhook relay for a remote
// one) only ever call Notify.
package push

import (
	"context"
	"sync"
)

// LogChanged is the name of the only signal this package delivers.
const LogChanged = "log-changed"

// Source produces notifications until ctx is done.
type Source interface {
	Run(ctx context.Context, n *Notifier) error
}

// Notifier fans a signal out to subscribers.
// It is safe for concurrent use.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]*Subscription)}
}

// Subscription receives coalesced notifications on C until cancelled.
type Subscription struct {
	c    chan struct{}
	id   uint64
	n    *Notifier
	once sync.Once
}

// C returns the notification channel. Buffered with size 1: a burst of
// notifications while the subscriber is busy collapses into one.
func (s *Subscription) C() <-chan struct{} {
	return s.c
}

// Cancel unsubscribes. The channel is not closed, so a select on it simply
// never fires again. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.n.mu.Lock()
		delete(s.n.subs, s.id)
		s.n.mu.Unlock()
	})
}

// Subscribe registers a new subscriber.
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	s := &Subscription{c: make(chan struct{}, 1), id: n.nextID, n: n}
	n.subs[s.id] = s
	return s
}

// Notify signals every subscriber without blocking.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, s := range n.subs {
		// Non-blocking: buffer of 1 coalesces multiple signals
		select {
		case s.c <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
