package broadcast

import (
	"context"
	"sync"
)

// Subscriber receives values published after it subscribed.
type Subscriber[T any] interface {
	// C returns the receive channel. It is closed when the subscriber is
	// closed, its context ends, or the broadcaster shuts down.
	C() <-chan T
	// Close is idempotent.
	Close() error
}

// Broadcaster fans values out to every current subscriber. Publishing never
// blocks: a subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	subscribers map[*subscriber[T]]struct{}
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// New creates a broadcaster whose subscribers buffer bufferSize values
// (minimum 1).
func New[T any](bufferSize int) *Broadcaster[T] {
	return &Broadcaster[T]{
		subscribers: make(map[*subscriber[T]]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe registers a subscriber that is removed when ctx is done.
// Subscribing to a closed broadcaster returns an already-closed subscriber.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	sub := &subscriber[T]{ch: make(chan T, b.bufferSize)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		_ = sub.Close()
		return sub
	}
	b.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-ctx.Done():
			case <-sub.done():
			}
			b.unsubscribe(sub)
		}()
	}
	return sub
}

// Publish delivers v to all subscribers and returns how many received it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	delivered := 0
	for sub := range b.subscribers {
		if sub.send(v) {
			delivered++
		}
	}
	return delivered
}

// Close closes every subscriber. Safe to call more than once.
func (b *Broadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		_ = sub.Close()
	}
	clear(b.subscribers)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Broadcaster[T]) unsubscribe(sub *subscriber[T]) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	_ = sub.Close()
}

type subscriber[T any] struct {
	ch     chan T
	closed bool
	quit   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

func (s *subscriber[T]) C() <-chan T {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done())
	}
	return nil
}

func (s *subscriber[T]) done() chan struct{} {
	s.once.Do(func() { s.quit = make(chan struct{}) })
	return s.quit
}

func (s *subscriber[T]) send(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}
