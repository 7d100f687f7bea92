package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hashicorp/go-metrics"
)

var _ Outbound = (*Handle)(nil)
var _ MessageListenable = (*Handle)(nil)
var _ MeshAware = (*Handle)(nil)

// Handle is the controller-side representation of one spawned
// execution unit. It owns the controller's end of the device channel,
// surfaces the unit's inbound traffic through its listener registry,
// and keeps the cross-wiring bookkeeping for the channels the unit
// holds.
type Handle struct {
	*Directory
	*ListenerRegistry

	id         string
	device     *Endpoint
	worker     *Worker
	queueDepth uint

	logger *slog.Logger

	runCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type handleConfig struct {
	id           string
	source       WorkerSource
	logger       *slog.Logger
	msink        metrics.MetricSink
	labels       []metrics.Label
	httpClient   *http.Client
	httpRetryMax uint64
	queueDepth   uint
}

// newHandle spawns the execution unit and wires it up: the device pair
// is built, the worker seeded and started, inbound traffic pumped into
// the listener registry, and the identity assignment sent before
// anything else can reach the unit.
func newHandle(cfg handleConfig) *Handle {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.queueDepth == 0 {
		cfg.queueDepth = defaultQueueDepth
	}
	devLocal, devRemote := newPipe(cfg.queueDepth)
	w := newWorker(workerConfig{
		device:       devRemote,
		logger:       cfg.logger,
		msink:        cfg.msink,
		labels:       cfg.labels,
		httpClient:   cfg.httpClient,
		httpRetryMax: cfg.httpRetryMax,
		queueDepth:   cfg.queueDepth,
	})
	if cfg.source != nil {
		cfg.source(w)
	}
	w.start()

	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		Directory:        NewDirectory(DeviceThread, cfg.logger, cfg.msink, cfg.labels),
		ListenerRegistry: NewListenerRegistry(NewGenerator(), cfg.logger, cfg.msink, cfg.labels),
		id:               cfg.id,
		device:           devLocal,
		worker:           w,
		queueDepth:       cfg.queueDepth,
		logger:           cfg.logger,
		runCtx:           runCtx,
		cancel:           cancel,
	}
	go h.pump()
	_ = h.Post(Envelope{Ident: cfg.id})
	return h
}

func (h *Handle) ID() string {
	return h.id
}

// Post delivers an envelope to the unit over the device channel,
// stamping the controller id as sender when none is set.
func (h *Handle) Post(env Envelope) error {
	if env.Sender == "" {
		env.Sender = DeviceThread
	}
	return h.device.Post(env)
}

func (h *Handle) pump() {
	for {
		env, err := h.device.Recv(h.runCtx)
		if err != nil {
			if h.runCtx.Err() != nil {
				return
			}
			h.Dispatch(Event{Thread: h.id, Err: err})
			return
		}
		h.Dispatch(Event{Thread: h.id, Env: env})
	}
}

// CrossWire builds one fresh private channel pair and hands one end to
// each of the two units, labeled with the other party's id. After the
// exchange the units talk directly, the controller is out of the path.
// Wiring the same pair twice is refused.
func (h *Handle) CrossWire(other *Handle) error {
	if other == nil {
		return ErrUnknownThread
	}
	if other.ID() == h.ID() {
		return fmt.Errorf("%w: %s", ErrDuplicateSibling, h.id)
	}
	left, right := newPipe(h.queueDepth)
	if err := h.RegisterSibling(other.ID(), left); err != nil {
		_ = left.Close()
		return err
	}
	if err := other.RegisterSibling(h.ID(), right); err != nil {
		h.RemoveSibling(other.ID())
		return err
	}
	if err := h.Post(Envelope{Listen: other.ID(), Endpoint: left}); err != nil {
		h.RemoveSibling(other.ID())
		other.RemoveSibling(h.ID())
		return fmt.Errorf("%w: %s", ErrUnreachable, h.id)
	}
	if err := other.Post(Envelope{Listen: h.ID(), Endpoint: right}); err != nil {
		h.RemoveSibling(other.ID())
		other.RemoveSibling(h.ID())
		return fmt.Errorf("%w: %s", ErrUnreachable, other.ID())
	}
	return nil
}

// Terminate tears the unit down: the device pair and every cross-wired
// channel this unit holds die with it, the worker's loop stops, and
// listener and sibling state is cleared. Surviving siblings are not
// notified here, broadcasting the removal notice is the pool's job.
func (h *Handle) Terminate() {
	h.closeOnce.Do(func() {
		h.cancel()
		h.worker.close()
		_ = h.device.Close()
		h.Directory.close()
		h.Clear()
		h.logger.Debug("unit terminated", LabelThread.L(h.id))
	})
}

// Close makes a Handle usable as a Directory entry; it is Terminate.
func (h *Handle) Close() error {
	h.Terminate()
	return nil
}
