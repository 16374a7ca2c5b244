package bus

import (
	"sync"
)

// Bus provides fan-out pub/sub semantics for values of type T (state
// snapshots, rendered panel views). Each Subscribe call gets its own channel
// that receives every future publication. Past messages are not replayed. The
// implementation is safe for concurrent publishers and subscribers.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers []chan T
	closed      bool
}

// New creates a ready-to-use Bus.
func New[T any]() *Bus[T] { return &Bus[T]{} }

// Subscribe returns a read-only channel that will receive all future
// publications.
func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, 1) // small buffer avoids blocking
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers = append(b.subscribers, ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish delivers v to all subscribers without blocking. A subscriber that
// has not consumed its previous value gets it replaced by v, so a slow reader
// always sees the latest publication.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- v:
			continue
		default:
		}
		// Buffer full: drop the stale value and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *Bus[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if (<-chan T)(sub) == ch {
			// remove without preserving order
			b.subscribers[i] = b.subscribers[len(b.subscribers)-1]
			b.subscribers = b.subscribers[:len(b.subscribers)-1]
			close(sub)
			return
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
