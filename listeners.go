package workerpool

import (
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"
)

// ListenerFunc observes inbound traffic. Listeners are fire-and-forget:
// whatever they return or panic with never travels anywhere.
type ListenerFunc func(ev Event)

// MessageListenable is the capability to observe the raw inbound
// traffic of a mesh party.
type MessageListenable interface {
	AddListener(fn ListenerFunc) (string, error)
	RemoveListener(id string) bool
}

var _ MessageListenable = (*ListenerRegistry)(nil)

// ListenerRegistry holds an ordered set of inbound-message observers.
// Dispatch walks them in registration order; a panicking listener is
// swallowed so it can never take the event loop down with it.
type ListenerRegistry struct {
	lk    sync.Mutex
	ids   []string
	table map[string]ListenerFunc

	gen    *Generator
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

func NewListenerRegistry(gen *Generator, logger *slog.Logger, msink metrics.MetricSink, labels []metrics.Label) *ListenerRegistry {
	if gen == nil {
		gen = NewGenerator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	return &ListenerRegistry{
		table:  make(map[string]ListenerFunc),
		gen:    gen,
		logger: logger,
		msink:  msink,
		labels: labels,
	}
}

func (reg *ListenerRegistry) AddListener(fn ListenerFunc) (string, error) {
	if fn == nil {
		return "", ErrNilListener
	}
	reg.lk.Lock()
	defer reg.lk.Unlock()
	id := reg.gen.Next()
	reg.ids = append(reg.ids, id)
	reg.table[id] = fn
	return id, nil
}

func (reg *ListenerRegistry) RemoveListener(id string) bool {
	reg.lk.Lock()
	defer reg.lk.Unlock()
	if _, has := reg.table[id]; !has {
		return false
	}
	delete(reg.table, id)
	for i, known := range reg.ids {
		if known == id {
			reg.ids = append(reg.ids[:i], reg.ids[i+1:]...)
			break
		}
	}
	return true
}

// Dispatch hands `ev` to every listener registered at the time of the
// call, in registration order. Listeners added or removed while a
// dispatch is in flight only affect later dispatches.
func (reg *ListenerRegistry) Dispatch(ev Event) {
	reg.lk.Lock()
	fns := make([]ListenerFunc, 0, len(reg.ids))
	for _, id := range reg.ids {
		fns = append(fns, reg.table[id])
	}
	reg.lk.Unlock()

	for _, fn := range fns {
		reg.invoke(fn, ev)
	}
}

func (reg *ListenerRegistry) invoke(fn ListenerFunc, ev Event) {
	defer func() {
		if cause := recover(); cause != nil {
			reg.msink.IncrCounterWithLabels(MetricPoolListenerPanicCount, 1.0, reg.labels)
			reg.logger.Debug(
				"listener panicked during dispatch",
				LabelThread.L(ev.Thread),
				LabelError.L(cause),
			)
		}
	}()
	fn(ev)
}

func (reg *ListenerRegistry) Len() int {
	reg.lk.Lock()
	defer reg.lk.Unlock()
	return len(reg.ids)
}

func (reg *ListenerRegistry) Clear() {
	reg.lk.Lock()
	defer reg.lk.Unlock()
	reg.ids = nil
	reg.table = make(map[string]ListenerFunc)
}
