// Package event provides typed fan-out feeds with explicit subscription handles.
package event

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Feed delivers values of T to every live subscription. Send never blocks:
// a subscriber whose buffer is full misses the value.
type Feed[T any] struct {
	name string

	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewFeed[T any](name string) *Feed[T] {
	return &Feed[T]{name: name, subs: make(map[*Subscription[T]]struct{})}
}

type Subscription[T any] struct {
	feed *Feed[T]
	ch   chan T
	once sync.Once
}

// Subscribe registers a new subscriber. The returned channel is closed by
// Unsubscribe or when the feed closes.
func (f *Feed[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription[T]{feed: f, ch: make(chan T, buffer)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// Send returns the number of subscribers that received v.
func (f *Feed[T]) Send(v T) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for s := range f.subs {
		select {
		case s.ch <- v:
			n++
		default:
			log.Warn().Str("module", "event").Str("feed", f.name).Msg("subscriber full, value dropped")
		}
	}
	return n
}

func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for s := range f.subs {
		s.once.Do(func() { close(s.ch) })
	}
	clear(f.subs)
}

func (s *Subscription[T]) C() <-chan T { return s.ch }

// Unsubscribe is safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs, s)
	s.once.Do(func() { close(s.ch) })
}
