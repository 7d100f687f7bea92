package workerpool

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/createvibe/client-workerpool/pkg/promise"
	"github.com/hashicorp/go-metrics"
)

// MeshAware is the capability to track which siblings are reachable
// from one party of the mesh.
type MeshAware interface {
	HasSiblings() bool
	SiblingIDs() []string
	RegisterSibling(id string, out Outbound) error
	RemoveSibling(id string) bool
}

var _ MeshAware = (*Directory)(nil)

// Directory is one mesh party's routing table: sibling id to outbound
// channel, round-robin selection over that mapping, broadcast, and the
// pending-callback bookkeeping for in-flight commands.
//
// Every outbound payload is structurally cloned and stamped with the
// owner's id before it leaves, so business logic can never smuggle a
// shared mutable reference across units.
type Directory struct {
	lk       sync.Mutex
	closed   bool
	owner    string
	siblings map[string]Outbound
	order    []string
	cursor   int
	pending  map[string]*promise.Future[any]

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

func NewDirectory(owner string, logger *slog.Logger, msink metrics.MetricSink, labels []metrics.Label) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	return &Directory{
		owner:    owner,
		siblings: make(map[string]Outbound),
		pending:  make(map[string]*promise.Future[any]),
		logger:   logger,
		msink:    msink,
		labels:   labels,
	}
}

// SetOwner records the id stamped on every outbound envelope. A unit
// only learns its own id from the identity-assignment message, so the
// owner starts out empty.
func (dir *Directory) SetOwner(id string) {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	dir.owner = id
}

func (dir *Directory) Owner() string {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	return dir.owner
}

// RegisterSibling adds the mapping. Wiring the same sibling twice is
// refused; a sibling removed after a termination can be registered
// again.
func (dir *Directory) RegisterSibling(id string, out Outbound) error {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	if dir.closed {
		_ = out.Close()
		return ErrEndpointClosed
	}
	if _, has := dir.siblings[id]; has {
		return fmt.Errorf("%w: %s", ErrDuplicateSibling, id)
	}
	dir.siblings[id] = out
	dir.order = append(dir.order, id)
	return nil
}

// RemoveSibling prunes the mapping and releases the held channel end.
// Unknown ids are a no-op returning false.
func (dir *Directory) RemoveSibling(id string) bool {
	dir.lk.Lock()
	out, has := dir.siblings[id]
	if has {
		delete(dir.siblings, id)
		for i, known := range dir.order {
			if known == id {
				dir.order = append(dir.order[:i], dir.order[i+1:]...)
				break
			}
		}
	}
	dir.lk.Unlock()
	if !has {
		return false
	}
	_ = out.Close()
	return true
}

// NextSibling returns the sibling at the round-robin cursor and
// advances it. Selection is best-effort across membership changes:
// the cursor is clamped to the current ring, a removal between two
// selections may skip or repeat one sibling.
func (dir *Directory) NextSibling() (string, bool) {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	if len(dir.order) == 0 {
		return "", false
	}
	dir.cursor = dir.cursor % len(dir.order)
	id := dir.order[dir.cursor]
	dir.cursor++
	return id, true
}

// HasSiblings is the emptiness check callers must branch on before
// relying on round-robin selection.
func (dir *Directory) HasSiblings() bool {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	return len(dir.order) > 0
}

func (dir *Directory) HasSibling(id string) bool {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	_, has := dir.siblings[id]
	return has
}

// SiblingIDs returns the current membership in registration order.
func (dir *Directory) SiblingIDs() []string {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	ids := make([]string, len(dir.order))
	copy(ids, dir.order)
	return ids
}

// SendTo stamps the envelope with the owner's id, structurally clones
// its payload and posts it to the sibling's channel. A false return
// means the destination is unreachable, either unknown or already torn
// down. That is a routing outcome the caller must branch on, not an
// error.
func (dir *Directory) SendTo(id string, env Envelope, transfer ...any) bool {
	dir.lk.Lock()
	out, has := dir.siblings[id]
	owner := dir.owner
	dir.lk.Unlock()
	if !has {
		dir.msink.IncrCounterWithLabels(MetricPoolEnvelopeDropCount, 1.0, dir.labels)
		return false
	}

	env.Sender = owner
	cloned, err := cloneEnvelope(env, transfer)
	if err != nil {
		dir.logger.Debug("payload refused a structural clone", LabelThread.L(id), LabelError.L(err))
		dir.msink.IncrCounterWithLabels(MetricPoolEnvelopeDropCount, 1.0, dir.labels)
		return false
	}
	if err := out.Post(cloned); err != nil {
		dir.logger.Debug("channel refused delivery", LabelThread.L(id), LabelError.L(err))
		dir.msink.IncrCounterWithLabels(MetricPoolEnvelopeDropCount, 1.0, dir.labels)
		return false
	}
	dir.msink.IncrCounterWithLabels(MetricPoolEnvelopeOutCount, 1.0, dir.labels)
	return true
}

// Broadcast sends to every current sibling, cloning the payload once
// per recipient. There is no aggregated success indicator.
func (dir *Directory) Broadcast(env Envelope, transfer ...any) {
	for _, id := range dir.SiblingIDs() {
		dir.SendTo(id, env, transfer...)
	}
	dir.msink.IncrCounterWithLabels(MetricPoolBroadcastCount, 1.0, dir.labels)
}

// RegisterCallback stores a fresh pending callback under the given
// correlation id and returns its future to the caller.
func (dir *Directory) RegisterCallback(id string) *promise.Future[any] {
	fut := promise.New[any]()
	dir.lk.Lock()
	dir.pending[id] = fut
	dir.lk.Unlock()
	return fut
}

// ResolveCallback settles the pending callback matching a response
// envelope: rejected when the envelope carries an error, resolved with
// its data otherwise. The entry is removed before settling, so a
// duplicate or late response for the same id is silently ignored.
func (dir *Directory) ResolveCallback(id string, env Envelope) {
	dir.lk.Lock()
	fut, has := dir.pending[id]
	if has {
		delete(dir.pending, id)
	}
	dir.lk.Unlock()
	if !has {
		dir.msink.IncrCounterWithLabels(MetricPoolCallbackDroppedCount, 1.0, dir.labels)
		dir.logger.Debug(
			"response matched no pending callback",
			LabelCallbackID.L(id),
			LabelSender.L(env.Sender),
		)
		return
	}

	if env.Error != "" {
		fut.Reject(&RemoteError{
			Thread:  env.Sender,
			Message: env.Error,
			Cause:   env.PreviousEvent,
		})
	} else {
		fut.Resolve(env.Data)
	}
	dir.msink.IncrCounterWithLabels(MetricPoolCallbackResolvedCount, 1.0, dir.labels)
}

// FailCallback rejects and removes a pending callback that never made
// it onto a channel, so local routing failures settle the caller's
// future instead of leaving it dangling.
func (dir *Directory) FailCallback(id string, err error) {
	dir.lk.Lock()
	fut, has := dir.pending[id]
	if has {
		delete(dir.pending, id)
	}
	dir.lk.Unlock()
	if has {
		fut.Reject(err)
	}
}

// PendingCount reports how many commands are still in flight.
func (dir *Directory) PendingCount() int {
	dir.lk.Lock()
	defer dir.lk.Unlock()
	return len(dir.pending)
}

// close releases every held channel end and refuses new siblings.
// Pending callbacks are abandoned, never force-rejected: an in-flight
// command to a dead unit pends until the caller's own timeout.
func (dir *Directory) close() {
	dir.lk.Lock()
	if dir.closed {
		dir.lk.Unlock()
		return
	}
	dir.closed = true
	outs := make([]Outbound, 0, len(dir.siblings))
	for _, out := range dir.siblings {
		outs = append(outs, out)
	}
	dir.siblings = make(map[string]Outbound)
	dir.order = nil
	dir.lk.Unlock()

	for _, out := range outs {
		_ = out.Close()
	}
}
