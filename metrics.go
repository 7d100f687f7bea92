package workerpool

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricPoolUnitSpawnCount counts execution units brought into
	// the mesh since the pool was created.
	MetricPoolUnitSpawnCount        = []string{"workerpool", "unit", "spawn", "count"}
	MetricPoolUnitTerminateCount    = []string{"workerpool", "unit", "terminate", "count"}
	MetricPoolCommandOutCount       = []string{"workerpool", "command", "out", "count"}
	MetricPoolCommandInCount        = []string{"workerpool", "command", "in", "count"}
	MetricPoolCommandErrorCount     = []string{"workerpool", "command", "error", "count"}
	MetricPoolCommandSeconds        = []string{"workerpool", "command", "seconds"}
	MetricPoolEnvelopeOutCount      = []string{"workerpool", "envelope", "out", "count"}
	MetricPoolEnvelopeDropCount     = []string{"workerpool", "envelope", "drop", "count"}
	MetricPoolCallbackResolvedCount = []string{"workerpool", "callback", "resolved", "count"}
	MetricPoolCallbackDroppedCount  = []string{"workerpool", "callback", "dropped", "count"}
	MetricPoolBroadcastCount        = []string{"workerpool", "broadcast", "count"}
	MetricPoolListenerPanicCount    = []string{"workerpool", "listener", "panic", "count"}
	MetricPoolHTTPRequestCount      = []string{"workerpool", "http", "request", "count"}
	MetricPoolHTTPRetryCount        = []string{"workerpool", "http", "retry", "count"}
	MetricPoolHTTPRequestSeconds    = []string{"workerpool", "http", "request", "seconds"}
)

type TelemetryLabel string

var (
	LabelError      TelemetryLabel = "error"
	LabelThread     TelemetryLabel = "thread"
	LabelSender     TelemetryLabel = "sender"
	LabelCommand    TelemetryLabel = "command"
	LabelCallbackID TelemetryLabel = "callback_id"
	LabelListenerID TelemetryLabel = "listener_id"
	LabelMethod     TelemetryLabel = "method"
	LabelURL        TelemetryLabel = "url"
	LabelStatus     TelemetryLabel = "status"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// withLabels appends per-emission labels to the static set without
// mutating the shared backing array.
func withLabels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(extra))
	out = append(out, static...)
	return append(out, extra...)
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
