package engine

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/eventsync/internal/event"
)

// Kind names a notification published by the engine.
type Kind string

const (
	KindEventCreated         Kind = "eventCreated"
	KindEventUpdated         Kind = "eventUpdated"
	KindEventDeleted         Kind = "eventDeleted"
	KindNetworkStatus        Kind = "networkStatus"
	KindUpdateCheckCompleted Kind = "updateCheckCompleted"
	KindUpdateCheckError     Kind = "updateCheckError"
	KindSyncStatus           Kind = "syncStatus"
)

// Notification is one published change. Which fields are set depends on Kind.
type Notification struct {
	Kind    Kind
	EventID string
	Event   *event.Event

	// Pending is true for optimistic changes not yet confirmed remotely.
	Pending bool
	// Rollback is true when the change undoes a rejected local write.
	Rollback bool

	Online bool
	Count  int
	Err    error
	Status *SyncStatus
}

// subscriptionBuffer bounds each subscriber's backlog. Slow subscribers lose
// notifications rather than block the writer.
const subscriptionBuffer = 64

// Subscription receives notifications of the kinds it asked for.
type Subscription struct {
	bus     *bus
	kinds   []Kind
	ch      chan Notification
	once    sync.Once
	dropped atomic.Int64
}

// C returns the notification channel. It is closed by Close or Teardown.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Dropped returns how many notifications were lost to a full buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

type bus struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (b *bus) subscribe(kinds []Kind) *Subscription {
	s := &Subscription{bus: b, kinds: slices.Clone(kinds), ch: make(chan Notification, subscriptionBuffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

func (b *bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(x *Subscription) bool { return x == s })
	s.once.Do(func() { close(s.ch) })
}

func (b *bus) publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !s.wants(n.Kind) {
			continue
		}
		select {
		case s.ch <- n:
		default:
			s.dropped.Add(1)
		}
	}
}

func (b *bus) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
