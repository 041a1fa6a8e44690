// Package stream fans out committed space events to live subscribers.
package stream

import (
	"context"
	"sync"

	"chainspace.org/internal/space"
)

const defaultBuffer = 64

// Stream is an in-process broadcast hub. Subscribers that fall behind
// lose events rather than blocking the publisher.
type Stream struct {
	mu   sync.Mutex
	subs map[chan space.Event]struct{}
}

var _ space.EventSink = (*Stream)(nil)

func New() *Stream {
	return &Stream{subs: make(map[chan space.Event]struct{})}
}

// Subscribe registers a listener. The returned channel closes when ctx
// is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan space.Event {
	ch := make(chan space.Event, defaultBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (s *Stream) Publish(ev space.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Len reports the number of active subscribers.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
