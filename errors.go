package workerpool

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("pool: invalid options")
	ErrPoolClosed    = errors.New("pool: shutting down")
	ErrNoWorkers     = errors.New("pool: no workers spawned")
	ErrSpawnCount    = errors.New("pool: spawn count must be positive")

	ErrDuplicateSibling = errors.New("mesh: sibling already wired")
	ErrUnknownThread    = errors.New("mesh: unknown thread identifier")
	ErrUnreachable      = errors.New("mesh: no live channel to thread")
	ErrEndpointClosed   = errors.New("mesh: channel closed")
	ErrNotCloneable     = errors.New("mesh: payload cannot be cloned")
	ErrRemote           = errors.New("mesh: remote command failed")

	ErrNilListener = errors.New("listener: callback must not be nil")

	ErrCommandNotFound = errors.New("worker: command not found")
	ErrInvalidCommand  = errors.New("worker: command not registered by the sender")
	ErrWorkerClosed    = errors.New("worker: shutting down")

	ErrHTTPStatus = errors.New("http: request failed")
)

// RemoteError is how a failure on another execution unit surfaces to
// the caller whose future was rejected. The remote failure crossed the
// channel as a string, so only its message survives; when the remote
// echoed the triggering envelope back, it is kept for diagnostics.
type RemoteError struct {
	Thread  string
	Message string
	Cause   *Envelope
}

func (rerr *RemoteError) Error() string {
	if rerr.Thread == "" {
		return fmt.Sprintf("%s: %s", ErrRemote, rerr.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrRemote, rerr.Thread, rerr.Message)
}

func (rerr *RemoteError) Unwrap() error {
	return ErrRemote
}
