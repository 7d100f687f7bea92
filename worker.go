package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/createvibe/client-workerpool/pkg/promise"
	"github.com/hashicorp/go-metrics"
)

// CommandFunc is business logic invocable by name from anywhere in the
// mesh. `sender` is the id of the unit (or DeviceThread) that issued
// the invocation. Returning a *promise.Future[any] is treated as an
// already-in-flight result and awaited before the response is posted.
type CommandFunc func(ctx context.Context, sender string, args []any) (any, error)

// WorkerSource seeds a freshly spawned unit before its event loop
// starts, typically by registering commands.
type WorkerSource func(w *Worker)

var _ MessageListenable = (*Worker)(nil)
var _ MeshAware = (*Worker)(nil)

// Worker is the coordinator running inside one execution unit. It owns
// the unit's identity, command registry, sibling channels and pending
// callbacks, and interprets every inbound envelope through a single
// message-type state machine.
//
// All mesh traffic funnels into one event-loop goroutine fed by
// per-channel receive pumps; command handlers run on goroutines of
// their own so a handler awaiting another unit can never wedge the
// loop, even when two units wait on each other.
type Worker struct {
	*Directory
	*ListenerRegistry

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	ids    *Generator
	device *Endpoint
	inbox  chan Event

	runCtx context.Context
	cancel context.CancelFunc

	lk        sync.Mutex
	id        string
	registry  map[string]CommandFunc
	httpAuth  string
	httpToken string

	httpClient   *http.Client
	httpRetryMax uint64
	newBackOff   func() backoff.BackOff

	closeCh   chan struct{}
	closeOnce sync.Once
}

type workerConfig struct {
	device       *Endpoint
	logger       *slog.Logger
	msink        metrics.MetricSink
	labels       []metrics.Label
	httpClient   *http.Client
	httpRetryMax uint64
	queueDepth   uint
}

func newWorker(cfg workerConfig) *Worker {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.msink == nil {
		cfg.msink = &metrics.BlackholeSink{}
	}
	if cfg.httpClient == nil {
		cfg.httpClient = http.DefaultClient
	}
	if cfg.queueDepth == 0 {
		cfg.queueDepth = defaultQueueDepth
	}
	ids := NewGenerator()
	runCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		Directory:        NewDirectory("", cfg.logger, cfg.msink, cfg.labels),
		ListenerRegistry: NewListenerRegistry(ids, cfg.logger, cfg.msink, cfg.labels),
		logger:           cfg.logger,
		msink:            cfg.msink,
		labels:           cfg.labels,
		ids:              ids,
		device:           cfg.device,
		inbox:            make(chan Event, cfg.queueDepth),
		runCtx:           runCtx,
		cancel:           cancel,
		registry:         make(map[string]CommandFunc),
		httpClient:       cfg.httpClient,
		httpRetryMax:     cfg.httpRetryMax,
		newBackOff:       defaultBackOff,
		closeCh:          make(chan struct{}),
	}
}

func (w *Worker) start() {
	go w.pump(DeviceThread, w.device)
	go w.run()
}

func (w *Worker) run() {
	for {
		select {
		case <-w.closeCh:
			return
		case ev := <-w.inbox:
			if ev.Err != nil {
				w.logger.Debug("channel failure", LabelThread.L(ev.Thread), LabelError.L(ev.Err))
				w.Dispatch(ev)
				continue
			}
			w.route(ev)
		}
	}
}

// pump forwards everything one channel end receives into the inbox,
// so the loop goroutine stays the only consumer of mesh traffic. A
// torn-down channel surfaces as a single error event.
func (w *Worker) pump(thread string, ep *Endpoint) {
	for {
		env, err := ep.Recv(w.runCtx)
		if err != nil {
			if w.runCtx.Err() != nil {
				return
			}
			select {
			case w.inbox <- Event{Thread: thread, Err: err}:
			case <-w.closeCh:
			}
			return
		}
		select {
		case w.inbox <- Event{Thread: thread, Env: env}:
		case <-w.closeCh:
			return
		}
	}
}

// route is the message-type state machine. Every inbound envelope is
// inspected once and dispatched by the first matching field, in this
// precedence order.
func (w *Worker) route(ev Event) {
	env := ev.Env
	switch {
	case env.Ident != "":
		w.assignID(env.Ident)
	case env.Remote != "":
		if env.Terminate {
			if w.RemoveSibling(env.Remote) {
				w.logger.Debug("sibling retired", LabelThread.L(env.Remote))
			}
		} else if env.Endpoint != nil {
			w.adoptSibling(env.Remote, env.Endpoint)
		} else {
			w.logger.Debug("sibling announcement without a channel", LabelThread.L(env.Remote))
		}
	case env.Listen != "":
		if env.Endpoint != nil {
			w.adoptSibling(env.Listen, env.Endpoint)
		} else {
			w.logger.Debug("channel handoff without a channel", LabelThread.L(env.Listen))
		}
	case env.Cmd != "":
		w.execute(env)
	case env.ReturnID != "":
		w.ResolveCallback(env.ReturnID, env)
	case env.SetHTTPAuth != "":
		w.setHTTPAuth(env.SetHTTPAuth)
	case env.SetHTTPAccessToken != "":
		w.setHTTPToken(env.SetHTTPAccessToken)
	default:
		w.Dispatch(ev)
	}
}

func (w *Worker) assignID(id string) {
	w.lk.Lock()
	w.id = id
	w.lk.Unlock()
	w.SetOwner(id)
	w.logger.Debug("identity assigned", LabelThread.L(id))
}

// ID returns the unit's identifier, empty until the controller's
// identity assignment arrives.
func (w *Worker) ID() string {
	w.lk.Lock()
	defer w.lk.Unlock()
	return w.id
}

func (w *Worker) adoptSibling(id string, ep *Endpoint) {
	if err := w.RegisterSibling(id, ep); err != nil {
		w.logger.Debug("refused channel handoff", LabelThread.L(id), LabelError.L(err))
		_ = ep.Close()
		return
	}
	go w.pump(id, ep)
	w.logger.Debug("sibling wired", LabelThread.L(id))
}

// RegisterCommand binds business logic to a name. Registering a name
// again replaces the previous handler; a nil handler removes the
// binding.
func (w *Worker) RegisterCommand(name string, fn CommandFunc) {
	if name == "" {
		return
	}
	w.lk.Lock()
	defer w.lk.Unlock()
	if fn == nil {
		delete(w.registry, name)
		return
	}
	w.registry[name] = fn
}

func (w *Worker) lookupCommand(name string) CommandFunc {
	w.lk.Lock()
	defer w.lk.Unlock()
	return w.registry[name]
}

func (w *Worker) execute(env Envelope) {
	w.msink.IncrCounterWithLabels(MetricPoolCommandInCount, 1.0, withLabels(w.labels, LabelCommand.M(env.Cmd)))
	fn := w.lookupCommand(env.Cmd)
	if fn == nil {
		w.logger.Debug("command not found", LabelCommand.L(env.Cmd), LabelSender.L(env.Sender))
		if env.CallbackID != "" {
			w.sendToRemote(env.Sender, Envelope{
				ReturnID: env.CallbackID,
				Error:    fmt.Sprintf("%s: %q", ErrCommandNotFound, env.Cmd),
			})
		}
		return
	}
	go w.runCommand(env, fn)
}

// runCommand executes one invocation and posts the response back to
// the sender with the request's correlation id. Handler failures are
// stringified before transmission, error values cannot cross the
// channel boundary.
func (w *Worker) runCommand(env Envelope, fn CommandFunc) {
	start := time.Now()
	result, err := w.invoke(env, fn)
	if fut, ok := result.(*promise.Future[any]); ok && err == nil {
		result, err = fut.Wait(w.runCtx)
	}
	w.msink.AddSampleWithLabels(
		MetricPoolCommandSeconds,
		float32(time.Since(start).Seconds()),
		withLabels(w.labels, LabelCommand.M(env.Cmd)),
	)
	if env.CallbackID == "" {
		return
	}
	if err != nil {
		w.msink.IncrCounterWithLabels(MetricPoolCommandErrorCount, 1.0, withLabels(w.labels, LabelCommand.M(env.Cmd)))
		prev := env
		prev.Endpoint = nil
		w.sendToRemote(env.Sender, Envelope{
			ReturnID:      env.CallbackID,
			Error:         err.Error(),
			PreviousEvent: &prev,
		})
		return
	}
	w.sendToRemote(env.Sender, Envelope{
		ReturnID: env.CallbackID,
		Data:     result,
	})
}

func (w *Worker) invoke(env Envelope, fn CommandFunc) (result any, err error) {
	defer func() {
		if cause := recover(); cause != nil {
			err = fmt.Errorf("panic: %v\n%s", cause, debug.Stack())
		}
	}()
	return fn(w.runCtx, env.Sender, env.Args)
}

// sendToRemote resolves one dispatch destination: the controller's own
// channel, a synchronous loopback into this unit's state machine when
// the target is the unit itself or the mesh is empty, or the sibling
// channel held by the directory. Loopback payloads are re-entered
// as-is, only real channels clone.
func (w *Worker) sendToRemote(id string, env Envelope, transfer ...any) bool {
	own := w.ID()
	switch {
	case id == DeviceThread:
		env.Sender = own
		cloned, err := cloneEnvelope(env, transfer)
		if err != nil {
			w.logger.Debug("payload refused a structural clone", LabelThread.L(id), LabelError.L(err))
			w.msink.IncrCounterWithLabels(MetricPoolEnvelopeDropCount, 1.0, w.labels)
			return false
		}
		if err := w.device.Post(cloned); err != nil {
			w.msink.IncrCounterWithLabels(MetricPoolEnvelopeDropCount, 1.0, w.labels)
			return false
		}
		w.msink.IncrCounterWithLabels(MetricPoolEnvelopeOutCount, 1.0, w.labels)
		return true
	case id == "" || id == own || !w.HasSiblings():
		env.Sender = own
		w.route(Event{Thread: own, Env: env})
		return true
	default:
		return w.SendTo(id, env, transfer...)
	}
}

// SendCommand dispatches a command to the next sibling in round-robin
// order and returns the future its response will settle.
func (w *Worker) SendCommand(name string, args ...any) *promise.Future[any] {
	return w.SendCommandTo("", name, args...)
}

// SendCommandTo dispatches to an explicit target: a sibling id, this
// unit's own id, or DeviceThread. A unit may only initiate commands it
// itself has registered, even though execution happens on the target.
// With an empty mesh the command always executes locally, whatever the
// target says.
func (w *Worker) SendCommandTo(target, name string, args ...any) *promise.Future[any] {
	if w.runCtx.Err() != nil {
		return promise.Rejected[any](ErrWorkerClosed)
	}
	if w.lookupCommand(name) == nil {
		return promise.Rejected[any](fmt.Errorf("%w: %q", ErrInvalidCommand, name))
	}

	own := w.ID()
	if !w.HasSiblings() {
		target = own
	} else if target == "" {
		next, ok := w.NextSibling()
		if !ok {
			target = own
		} else {
			target = next
		}
	} else if target != DeviceThread && target != own && !w.HasSibling(target) {
		return promise.Rejected[any](fmt.Errorf("%w: %q", ErrUnknownThread, target))
	}

	callbackID := w.ids.Next()
	fut := w.RegisterCallback(callbackID)
	w.msink.IncrCounterWithLabels(MetricPoolCommandOutCount, 1.0, withLabels(w.labels, LabelCommand.M(name)))
	sent := w.sendToRemote(target, Envelope{
		Cmd:        name,
		Args:       args,
		Thread:     target,
		CallbackID: callbackID,
	})
	if !sent {
		w.FailCallback(callbackID, fmt.Errorf("%w: %q", ErrUnreachable, target))
	}
	return fut
}

func (w *Worker) setHTTPAuth(auth string) {
	w.lk.Lock()
	defer w.lk.Unlock()
	w.httpAuth = auth
}

func (w *Worker) setHTTPToken(token string) {
	w.lk.Lock()
	defer w.lk.Unlock()
	w.httpToken = token
}

func (w *Worker) httpConfig() (auth, token string) {
	w.lk.Lock()
	defer w.lk.Unlock()
	return w.httpAuth, w.httpToken
}

// close tears the unit down: the loop and pumps stop, the device pair
// and every sibling channel die with it. In-flight handlers observe
// the cancellation through their context; their late responses land
// nowhere.
func (w *Worker) close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.cancel()
		_ = w.device.Close()
		w.Directory.close()
		w.Clear()
	})
}
