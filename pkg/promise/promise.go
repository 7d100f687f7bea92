package promise

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrSettled = errors.New("promise: already settled")
)

// Future is a one-shot rendezvous between a producer and any number of
// consumers. It settles at most once, either with a value or with an
// error, and stays settled forever after.
//
// The zero value is not usable, always go through [New], [Resolved]
// or [Rejected].
type Future[T any] struct {
	lk      sync.Mutex
	settled bool
	val     T
	err     error
	doneCh  chan struct{}
}

func New[T any]() *Future[T] {
	return &Future[T]{
		doneCh: make(chan struct{}),
	}
}

// Resolved returns a future already settled with `val`.
func Resolved[T any](val T) *Future[T] {
	fut := New[T]()
	fut.Resolve(val)
	return fut
}

// Rejected returns a future already settled with `err`.
func Rejected[T any](err error) *Future[T] {
	fut := New[T]()
	fut.Reject(err)
	return fut
}

// Resolve settles the future with a value. It reports whether this
// call won the settlement; a future keeps the first outcome it sees.
func (fut *Future[T]) Resolve(val T) bool {
	fut.lk.Lock()
	defer fut.lk.Unlock()
	if fut.settled {
		return false
	}
	fut.settled = true
	fut.val = val
	close(fut.doneCh)
	return true
}

// Reject settles the future with an error. A nil `err` is coerced to
// [ErrSettled] so consumers never observe a rejected-with-nil future.
func (fut *Future[T]) Reject(err error) bool {
	fut.lk.Lock()
	defer fut.lk.Unlock()
	if fut.settled {
		return false
	}
	if err == nil {
		err = ErrSettled
	}
	fut.settled = true
	fut.err = err
	close(fut.doneCh)
	return true
}

// Done is closed once the future settles. It lets callers select on
// completion without committing to a blocking Wait.
func (fut *Future[T]) Done() <-chan struct{} {
	return fut.doneCh
}

// Wait blocks until the future settles or `ctx` expires, whichever
// comes first. The future itself carries no deadline: bounding the
// wait is the caller's decision.
func (fut *Future[T]) Wait(ctx context.Context) (result T, err error) {
	select {
	case <-ctx.Done():
		return result, ctx.Err()
	case <-fut.doneCh:
	}
	fut.lk.Lock()
	defer fut.lk.Unlock()
	return fut.val, fut.err
}

// Settled reports whether an outcome was recorded, without blocking.
func (fut *Future[T]) Settled() bool {
	fut.lk.Lock()
	defer fut.lk.Unlock()
	return fut.settled
}
