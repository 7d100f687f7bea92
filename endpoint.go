package workerpool

import (
	"context"
	"sync"
)

// Outbound is the sending half a mesh entry must provide: one party's
// way of pushing an envelope toward another. Both channel ends and
// controller-side unit handles satisfy it.
type Outbound interface {
	Post(env Envelope) error
	Close() error
}

var _ Outbound = (*Endpoint)(nil)

// Endpoint is one end of a private channel pair. Each end is owned by
// exactly one party; ownership moves by passing the value inside an
// envelope, never by serialization. Closing either end tears down the
// whole pair.
type Endpoint struct {
	w chan<- Envelope
	r <-chan Envelope

	closeCh   chan struct{}
	closeOnce *sync.Once
}

// newPipe builds the two crossed ends of a private channel. Delivery
// preserves sender order within the pair; nothing is guaranteed across
// different pairs.
func newPipe(depth uint) (left *Endpoint, right *Endpoint) {
	outbound := make(chan Envelope, depth)
	inbound := make(chan Envelope, depth)
	closeCh := make(chan struct{})
	closeOnce := &sync.Once{}
	left = &Endpoint{
		w:         outbound,
		r:         inbound,
		closeCh:   closeCh,
		closeOnce: closeOnce,
	}
	right = &Endpoint{
		w:         inbound,
		r:         outbound,
		closeCh:   closeCh,
		closeOnce: closeOnce,
	}
	return
}

func (ep *Endpoint) Post(env Envelope) error {
	select {
	case <-ep.closeCh:
		return ErrEndpointClosed
	case ep.w <- env:
		return nil
	}
}

// Recv blocks until an envelope arrives, the pair is torn down, or
// `ctx` expires. Envelopes already buffered when the pair closes are
// still drained in order before the closure is reported.
func (ep *Endpoint) Recv(ctx context.Context) (Envelope, error) {
	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case env := <-ep.r:
		return env, nil
	case <-ep.closeCh:
		select {
		case env := <-ep.r:
			return env, nil
		default:
			return Envelope{}, ErrEndpointClosed
		}
	}
}

func (ep *Endpoint) Close() error {
	ep.closeOnce.Do(func() {
		close(ep.closeCh)
	})
	return nil
}
