package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tingly-dev/vertex-relay/internal/config"
	"github.com/tingly-dev/vertex-relay/internal/protocol"
	"github.com/tingly-dev/vertex-relay/internal/provider"
	"github.com/tingly-dev/vertex-relay/internal/typ"
)

// Dispatcher performs the upstream HTTP exchange with quota-aware retries.
type Dispatcher struct {
	backend provider.Backend
	client  *http.Client
	metrics *Metrics

	retriesEnabled bool
	maxAttempts    int

	// retryBaseDelay is one second in production; tests shrink it.
	retryBaseDelay time.Duration
}

// NewDispatcher wires the dispatcher from the resolved config.
func NewDispatcher(backend provider.Backend, metrics *Metrics, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		client: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSecs) * time.Second,
		},
		metrics:        metrics,
		retriesEnabled: cfg.EnableRetries,
		maxAttempts:    cfg.MaxRetryAttempts,
		retryBaseDelay: time.Second,
	}
}

// Do sends the payload to the backend and returns the upstream response
// with its body still open. Non-2xx statuses are consumed, mapped to typed
// errors, and never returned as responses.
func (d *Dispatcher) Do(ctx context.Context, payload *protocol.MessagesRequest, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, typ.RequestError("serialize upstream payload", err)
	}
	url := d.backend.RequestURL(streaming)

	for attempt := 1; ; attempt++ {
		resp, err := d.send(ctx, url, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		if readErr != nil {
			return nil, typ.RequestError("read upstream error body", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests && isQuotaError(errBody) {
			d.metrics.RecordQuotaError()
			if d.retriesEnabled && attempt < d.maxAttempts {
				d.metrics.RecordRetry()
				delay := d.retryBaseDelay << (attempt - 1)
				logrus.Warnf("quota exhausted upstream, retrying in %s (attempt %d/%d)", delay, attempt, d.maxAttempts)
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, typ.HTTPError("request canceled during retry wait: %v", err)
				}
				continue
			}
		}
		return nil, mapUpstreamError(resp.StatusCode, errBody)
	}
}

func (d *Dispatcher) send(ctx context.Context, url string, body []byte) (*http.Response, error) {
	token, err := d.backend.Auth().Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, typ.RequestError("build upstream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, typ.HTTPError("upstream request failed: %v", err)
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isQuotaError spots the retryable flavor of a 429.
func isQuotaError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "rate limit")
}

// upstreamMessage extracts a readable error message, preferring the
// structured error.message field when the body is JSON.
func upstreamMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if msg := gjson.GetBytes(body, "0.error.message"); msg.Exists() {
		return msg.String()
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

func mapUpstreamError(status int, body []byte) error {
	msg := upstreamMessage(body)
	switch {
	case status == http.StatusBadRequest && strings.Contains(string(body), "tools: Input should be a valid list"):
		return typ.ConversionError("invalid tools configuration: %s", msg)
	case status == http.StatusBadRequest:
		return typ.HTTPError("bad request: %s", msg)
	case status == http.StatusUnauthorized:
		return typ.AuthError("upstream rejected credentials: %s", msg)
	case status == http.StatusForbidden:
		return typ.AuthError("forbidden: %s", msg)
	case status == http.StatusNotFound:
		return typ.HTTPError("model or endpoint not found: %s", msg)
	case status == http.StatusTooManyRequests:
		return typ.HTTPError("too many requests: %s", msg)
	case status >= 500:
		return typ.HTTPError("upstream temporarily unavailable (%d): %s", status, msg)
	}
	return typ.HTTPError("unexpected upstream status %d: %s", status, msg)
}
