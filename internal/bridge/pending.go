package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrRequestCancelled is returned to waiters dropped by Close or their context
	ErrRequestCancelled = errors.New("bridge request cancelled")
	// ErrUnknownRequest is returned when the frontend resolves an id nobody waits for
	ErrUnknownRequest = errors.New("unknown bridge request")
)

type outcome[T any] struct {
	value T
	err   error
}

// Pending matches frontend replies to Go callers waiting on them
type Pending[T any] struct {
	mu      sync.Mutex
	waiters map[string]chan outcome[T]
	closed  bool
}

// NewPending returns an empty registry
func NewPending[T any]() *Pending[T] {
	return &Pending[T]{waiters: make(map[string]chan outcome[T])}
}

// Request is one open request
type Request[T any] struct {
	ID string
	ch chan outcome[T]
	p  *Pending[T]
}

// Open registers a request. The caller emits its ID to the frontend and
// then waits on it.
func (p *Pending[T]) Open() (*Request[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrRequestCancelled
	}
	r := &Request[T]{ID: uuid.New().String(), ch: make(chan outcome[T], 1), p: p}
	p.waiters[r.ID] = r.ch
	return r, nil
}

// Wait blocks until the request is resolved or ctx is done
func (r *Request[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case o := <-r.ch:
		return o.value, o.err
	case <-ctx.Done():
		r.p.drop(r.ID)
		return zero, fmt.Errorf("%w: %w", ErrRequestCancelled, ctx.Err())
	}
}

// Resolve delivers the frontend reply
func (p *Pending[T]) Resolve(id string, value T, err error) error {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	ch <- outcome[T]{value: value, err: err}
	return nil
}

// Len counts open requests
func (p *Pending[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Close fails every open request and rejects new ones
func (p *Pending[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.waiters {
		ch <- outcome[T]{err: ErrRequestCancelled}
		delete(p.waiters, id)
	}
}

func (p *Pending[T]) drop(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}
