package preload

import (
	"context"
	"sync"
)

// PromiseState represents the lifecycle state of a [Promise].
// State transitions are irreversible.
type PromiseState int

const (
	// Pending indicates the promise has not yet settled.
	Pending PromiseState = iota

	// Fulfilled indicates the promise settled successfully with a value.
	Fulfilled

	// Rejected indicates the promise settled with an error.
	Rejected
)

// String returns a human-readable representation of the state.
func (s PromiseState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Fulfilled:
		return "Fulfilled"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Promise is a settlement handle for an asynchronous outcome, e.g. an item's
// completion. It settles at most once. Reactions registered via
// [Promise.Then] run on the owning queue's loop, as microtasks, in
// registration order.
//
// All methods are safe for concurrent use.
type Promise struct {
	loop      *loop
	value     any
	err       error
	done      chan struct{}
	reactions []func()
	state     PromiseState
	mu        sync.Mutex
}

func newPromise(l *loop) *Promise {
	return &Promise{
		loop: l,
		done: make(chan struct{}),
	}
}

// State returns the current [PromiseState].
func (p *Promise) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or nil if not fulfilled.
func (p *Promise) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Err returns the rejection reason, or nil if not rejected.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done returns a channel that is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the promise settles, or ctx is done. It must not be
// called from the loop goroutine (e.g. from a listener), as that would
// deadlock.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then registers reactions to settlement. Either may be nil. If the promise
// has already settled, the matching reaction is scheduled immediately.
func (p *Promise) Then(onFulfilled func(value any), onRejected func(err error)) {
	reaction := func() {
		p.mu.Lock()
		state, value, err := p.state, p.value, p.err
		p.mu.Unlock()
		switch state {
		case Fulfilled:
			if onFulfilled != nil {
				onFulfilled(value)
			}
		case Rejected:
			if onRejected != nil {
				onRejected(err)
			}
		}
	}

	p.mu.Lock()
	if p.state == Pending {
		p.reactions = append(p.reactions, reaction)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.schedule(reaction)
}

func (p *Promise) resolve(value any) bool {
	return p.settle(Fulfilled, value, nil)
}

func (p *Promise) reject(err error) bool {
	return p.settle(Rejected, nil, err)
}

func (p *Promise) settle(state PromiseState, value any, err error) bool {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.value = value
	p.err = err
	reactions := p.reactions
	p.reactions = nil
	close(p.done)
	p.mu.Unlock()

	for _, reaction := range reactions {
		p.schedule(reaction)
	}

	return true
}

func (p *Promise) schedule(fn func()) {
	if p.loop == nil {
		fn()
		return
	}
	p.loop.queueMicrotask(fn)
}

// all returns a promise that fulfills with the values of every input, in
// order, or rejects with the first rejection.
func all(l *loop, promises []*Promise) *Promise {
	result := newPromise(l)

	if len(promises) == 0 {
		result.resolve([]any{})
		return result
	}

	var (
		mu        sync.Mutex
		values    = make([]any, len(promises))
		remaining = len(promises)
	)

	for i, p := range promises {
		p.Then(
			func(value any) {
				mu.Lock()
				values[i] = value
				remaining--
				complete := remaining == 0
				mu.Unlock()
				if complete {
					result.resolve(values)
				}
			},
			func(err error) {
				result.reject(err)
			},
		)
	}

	return result
}
