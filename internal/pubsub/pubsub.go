// Package pubsub provides a small in-process publisher with explicit
// unsubscribe semantics. Consumer registration for candle and book updates
// goes through here so subscriber lists stay owned and enumerable instead
// of accumulating anonymous callbacks.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
)

// Token identifies one subscriber for cancellation.
type Token struct {
	id uuid.UUID
}

// Publisher fans values out to registered subscribers.
// Publish invokes subscribers synchronously in the caller's goroutine;
// per-channel ordering is therefore the caller's ordering.
type Publisher[T any] struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]func(T)
}

// NewPublisher creates an empty publisher.
func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{
		subs: make(map[uuid.UUID]func(T)),
	}
}

// Subscribe registers fn and returns a token for Unsubscribe.
func (p *Publisher[T]) Subscribe(fn func(T)) Token {
	tok := Token{id: uuid.New()}

	p.mu.Lock()
	p.subs[tok.id] = fn
	p.mu.Unlock()

	return tok
}

// Unsubscribe removes the subscriber. Idempotent: unknown or already
// removed tokens are a no-op. Delivery stops immediately for calls to
// Publish that begin after Unsubscribe returns.
func (p *Publisher[T]) Unsubscribe(tok Token) {
	p.mu.Lock()
	delete(p.subs, tok.id)
	p.mu.Unlock()
}

// Publish delivers v to every current subscriber.
func (p *Publisher[T]) Publish(v T) {
	p.mu.RLock()
	fns := make([]func(T), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of active subscribers.
func (p *Publisher[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
