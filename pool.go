package workerpool

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/createvibe/client-workerpool/pkg/promise"
	"github.com/hashicorp/go-metrics"
)

var _ MessageListenable = (*Pool)(nil)
var _ MeshAware = (*Pool)(nil)

// Pool is the controller: it spawns execution units, cross-wires each
// new one against every unit already present so the mesh stays fully
// connected, and dispatches commands over the channel picked by
// round-robin. The controller executes no commands itself, it only
// issues them and correlates the replies.
type Pool struct {
	*Directory
	*ListenerRegistry

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	cfg config
	ids *Generator

	spawnLk sync.Mutex

	lk      sync.Mutex
	closed  bool
	handles map[string]*Handle
}

// New assembles a pool. With no options it logs through slog.Default,
// emits metrics to the process-global sink and issues HTTP calls with
// http.DefaultClient.
func New(opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	var logger *slog.Logger
	if cfg.logHandler != nil {
		logger = slog.New(cfg.logHandler)
	} else {
		logger = slog.Default()
	}
	if cfg.msink == nil {
		cfg.msink = metrics.Default()
	}

	ids := NewGenerator()
	return &Pool{
		Directory:        NewDirectory(DeviceThread, logger, cfg.msink, cfg.metricLabels),
		ListenerRegistry: NewListenerRegistry(ids, logger, cfg.msink, cfg.metricLabels),
		logger:           logger,
		msink:            cfg.msink,
		labels:           cfg.metricLabels,
		cfg:              cfg,
		ids:              ids,
		handles:          make(map[string]*Handle),
	}, nil
}

// Spawn brings `count` fresh execution units into the mesh, seeding
// each one through `source` before its loop starts. Every new unit is
// cross-wired against every unit spawned before it, so connectivity
// is complete after each step. Returns the new unit ids in spawn
// order.
func (p *Pool) Spawn(source WorkerSource, count int) ([]string, error) {
	if count <= 0 {
		return nil, ErrSpawnCount
	}
	p.spawnLk.Lock()
	defer p.spawnLk.Unlock()

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		h, err := p.spawnOne(source)
		if err != nil {
			return ids, err
		}
		ids = append(ids, h.ID())
	}
	return ids, nil
}

func (p *Pool) spawnOne(source WorkerSource) (*Handle, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	id := p.ids.Next()
	h := newHandle(handleConfig{
		id:           id,
		source:       source,
		logger:       p.logger,
		msink:        p.msink,
		labels:       p.labels,
		httpClient:   p.cfg.httpClient,
		httpRetryMax: p.cfg.httpRetryMax,
		queueDepth:   p.cfg.queueDepth,
	})

	if _, err := h.AddListener(p.routeUnitEvent); err != nil {
		h.Terminate()
		return nil, err
	}

	for _, otherID := range p.SiblingIDs() {
		other := p.handle(otherID)
		if other == nil {
			continue
		}
		if err := h.CrossWire(other); err != nil {
			h.Terminate()
			return nil, err
		}
	}

	if err := p.RegisterSibling(id, h); err != nil {
		h.Terminate()
		return nil, err
	}
	p.lk.Lock()
	p.handles[id] = h
	p.lk.Unlock()

	p.msink.IncrCounterWithLabels(MetricPoolUnitSpawnCount, 1.0, p.labels)
	p.logger.Debug("unit spawned", LabelThread.L(id))
	return h, nil
}

func (p *Pool) handle(id string) *Handle {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.handles[id]
}

// routeUnitEvent is the controller's inbound machine: correlation
// replies settle pending callbacks, command invocations are answered
// with Command-Not-Found since the controller executes nothing, and
// everything else reaches the pool's listeners.
func (p *Pool) routeUnitEvent(ev Event) {
	if ev.Err != nil {
		p.logger.Debug("unit channel failure", LabelThread.L(ev.Thread), LabelError.L(ev.Err))
		p.Dispatch(ev)
		return
	}
	env := ev.Env
	switch {
	case env.ReturnID != "":
		p.ResolveCallback(env.ReturnID, env)
	case env.Cmd != "":
		p.logger.Debug("controller cannot execute commands", LabelCommand.L(env.Cmd), LabelSender.L(env.Sender))
		if env.CallbackID != "" {
			p.SendTo(env.Sender, Envelope{
				ReturnID: env.CallbackID,
				Error:    fmt.Sprintf("%s: %q", ErrCommandNotFound, env.Cmd),
			})
		}
	default:
		p.Dispatch(ev)
	}
}

// SendCommand dispatches a command to the next unit in round-robin
// order and returns the future its response will settle. The
// controller has no command registry, so with an empty pool the
// future rejects immediately instead of falling back to a local run.
func (p *Pool) SendCommand(name string, args ...any) *promise.Future[any] {
	if p.isClosed() {
		return promise.Rejected[any](ErrPoolClosed)
	}
	target, ok := p.NextSibling()
	if !ok {
		return promise.Rejected[any](ErrNoWorkers)
	}
	callbackID := p.ids.Next()
	fut := p.RegisterCallback(callbackID)
	p.msink.IncrCounterWithLabels(MetricPoolCommandOutCount, 1.0, withLabels(p.labels, LabelCommand.M(name)))
	sent := p.SendTo(target, Envelope{
		Cmd:        name,
		Args:       args,
		Thread:     target,
		CallbackID: callbackID,
	})
	if !sent {
		p.FailCallback(callbackID, fmt.Errorf("%w: %q", ErrUnreachable, target))
	}
	return fut
}

// PostMessage delivers a raw data event to the next unit in
// round-robin order, fire-and-forget. It returns the id of the unit
// that received it, or false when nothing was delivered.
func (p *Pool) PostMessage(data any) (string, bool) {
	if p.isClosed() {
		return "", false
	}
	target, ok := p.NextSibling()
	if !ok {
		return "", false
	}
	if !p.SendTo(target, Envelope{Data: data}) {
		return "", false
	}
	return target, true
}

// SetHTTPAuthorization pushes a Basic credential to every unit. Later
// HTTPRequest calls inject it whenever the caller supplies no
// Authorization header of their own.
func (p *Pool) SetHTTPAuthorization(auth string) {
	p.Broadcast(Envelope{SetHTTPAuth: auth})
}

// SetHTTPAccessToken pushes the access-token header value the same
// way.
func (p *Pool) SetHTTPAccessToken(token string) {
	p.Broadcast(Envelope{SetHTTPAccessToken: token})
}

// Terminate retires units. With no ids every unit dies; with explicit
// ids the named handles are terminated and a removal notice broadcast
// so the survivors prune their stale mesh entries. Commands in flight
// toward a terminated unit stay pending on the caller's side.
func (p *Pool) Terminate(ids ...string) {
	if len(ids) == 0 {
		ids = p.SiblingIDs()
	}
	for _, id := range ids {
		h := p.takeHandle(id)
		if h == nil {
			continue
		}
		h.Terminate()
		p.RemoveSibling(id)
		p.Broadcast(Envelope{Remote: id, Terminate: true})
		p.msink.IncrCounterWithLabels(MetricPoolUnitTerminateCount, 1.0, p.labels)
	}
}

func (p *Pool) takeHandle(id string) *Handle {
	p.lk.Lock()
	defer p.lk.Unlock()
	h := p.handles[id]
	delete(p.handles, id)
	return h
}

// Shutdown terminates every unit and refuses all further work.
func (p *Pool) Shutdown() error {
	p.spawnLk.Lock()
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		p.spawnLk.Unlock()
		return nil
	}
	p.closed = true
	p.lk.Unlock()
	p.spawnLk.Unlock()

	p.logger.Info("shutting down...")
	p.Terminate()
	p.Directory.close()
	p.Clear()
	return nil
}

func (p *Pool) isClosed() bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.closed
}
