package workerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// HeaderAccessToken carries the ambient access token pushed through
// SetHTTPAccessToken on every request that does not override it.
const HeaderAccessToken = "X-Access-Token"

func defaultBackOff() backoff.BackOff {
	pol := backoff.NewExponentialBackOff()
	pol.InitialInterval = 100 * time.Millisecond
	pol.MaxElapsedTime = 30 * time.Second
	return pol
}

// HTTPRequest issues a networked call on behalf of a registered
// command. It is plain I/O, not part of the mesh protocol: the only
// coupling to the pool is the ambient configuration pushed by the
// controller, injected as Authorization and access-token headers
// whenever the caller supplies none of their own.
//
// A non-nil `data` is marshalled as a JSON body with the content type
// defaulted to match. Network failures and 5xx responses are retried
// with exponential backoff up to the configured attempt bound; any
// other non-2xx status fails immediately and surfaces wrapped in
// ErrHTTPStatus. JSON response bodies are decoded into generic values,
// anything else is returned as a string.
func (w *Worker) HTTPRequest(ctx context.Context, method, url string, data any, headers http.Header) (any, error) {
	var body []byte
	if data != nil {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	start := time.Now()
	w.msink.IncrCounterWithLabels(MetricPoolHTTPRequestCount, 1.0, withLabels(w.labels, LabelMethod.M(method)))

	var result any
	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			w.msink.IncrCounterWithLabels(MetricPoolHTTPRetryCount, 1.0, withLabels(w.labels, LabelMethod.M(method)))
		}
		attempt++

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		w.setRequestHeaders(req, data != nil, headers)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			w.logger.Debug("http attempt failed", LabelMethod.L(method), LabelURL.L(url), LabelError.L(err))
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			w.logger.Debug("http attempt failed", LabelMethod.L(method), LabelURL.L(url), LabelStatus.L(resp.StatusCode))
			return fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status))
		}

		result = decodeResponseBody(resp.Header.Get("Content-Type"), raw)
		return nil
	}, backoff.WithMaxRetries(w.newBackOff(), w.httpRetryMax))

	w.msink.AddSampleWithLabels(
		MetricPoolHTTPRequestSeconds,
		float32(time.Since(start).Seconds()),
		withLabels(w.labels, LabelMethod.M(method), LabelStatus.M(strconv.FormatBool(err == nil))),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// setRequestHeaders applies the caller's headers first, then fills the
// gaps from ambient configuration: callers always win over the values
// the controller pushed.
func (w *Worker) setRequestHeaders(req *http.Request, hasBody bool, headers http.Header) {
	for name, vals := range headers {
		for _, val := range vals {
			req.Header.Add(name, val)
		}
	}
	auth, token := w.httpConfig()
	if req.Header.Get("Authorization") == "" && auth != "" {
		req.Header.Set("Authorization", "Basic "+auth)
	}
	if req.Header.Get(HeaderAccessToken) == "" && token != "" {
		req.Header.Set(HeaderAccessToken, token)
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

func decodeResponseBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}
