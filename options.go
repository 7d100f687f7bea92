package workerpool

import (
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-metrics"
)

const defaultQueueDepth = 1024
const defaultHTTPRetryMax = 3

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	httpClient   *http.Client
	queueDepth   uint
	httpRetryMax uint64
}

func defaultConfig() config {
	return config{
		httpClient:   http.DefaultClient,
		queueDepth:   defaultQueueDepth,
		httpRetryMax: defaultHTTPRetryMax,
	}
}

// Option to pass to `New`
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics
// emitted by the pool and its units.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// pool and its units.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithHTTPClient sets the client units issue HTTPRequest calls with.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) error {
		if client == nil {
			client = http.DefaultClient
		}
		c.httpClient = client
		return nil
	}
}

// WithHintQueueDepth gives an indication of how many envelopes may
// queue on one private channel before the sender blocks.
func WithHintQueueDepth(hint uint) Option {
	return func(c *config) error {
		if hint == 0 {
			hint = defaultQueueDepth
		}
		c.queueDepth = hint
		return nil
	}
}

// WithHTTPRetryMax bounds how many times a transient HTTPRequest
// failure is retried before giving up.
func WithHTTPRetryMax(max uint64) Option {
	return func(c *config) error {
		c.httpRetryMax = max
		return nil
	}
}
