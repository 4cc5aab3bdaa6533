// Package integration implements best-effort outbound calls to downstream services.
//
// A call is a JSON POST with an API key header, bounded by a per-attempt timeout
// and retried a fixed number of times. When every attempt fails a single
// integration_failed audit entry is emitted. Calls never return errors.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/procurement/internal/audit"
)

// Default call policy.
const (
	DefaultTimeout  = 3 * time.Second
	DefaultBackoff  = 250 * time.Millisecond
	DefaultAttempts = 2
)

// Outcome summarises a best-effort call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// AuditPort receives the failure record once retries are exhausted.
type AuditPort interface {
	Emit(ctx context.Context, entry audit.Entry)
}

// MetricsPort counts call outcomes per target.
type MetricsPort interface {
	ObserveIntegration(target, outcome string)
}

// Config describes one downstream service.
type Config struct {
	Target     string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Backoff    time.Duration
	Attempts   int
	HTTPClient *http.Client
}

// Call is a single POST to an endpoint relative to the base URL.
type Call struct {
	Endpoint string
	Payload  any
	// Fields identify the business object in the failure audit entry.
	Fields map[string]any
}

// Response holds the successful reply.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into target.
func (r Response) Decode(target any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("integration: empty response body")
	}
	return json.Unmarshal(r.Body, target)
}

// HTTPError records a non-2xx reply.
type HTTPError struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Client posts to one downstream service.
type Client struct {
	cfg     Config
	http    *http.Client
	auditor AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	sleep   func(time.Duration)
}

// NewClient constructs a client, filling unset policy fields with defaults.
func NewClient(cfg Config, auditor AuditPort, metrics MetricsPort, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.With(slog.String("target", cfg.Target)),
		sleep:   time.Sleep,
	}
}

// Target returns the downstream service name.
func (c *Client) Target() string {
	return c.cfg.Target
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Post performs the call. Caller cancellation does not abort in-flight attempts.
func (c *Client) Post(ctx context.Context, call Call) (Response, Outcome) {
	if !c.Enabled() {
		if c != nil {
			c.logger.Warn("integration api key not configured, skipping call", slog.String("endpoint", call.Endpoint))
			c.observe(OutcomeSkipped)
		}
		return Response{}, OutcomeSkipped
	}

	body, err := json.Marshal(call.Payload)
	if err != nil {
		c.fail(ctx, call, err)
		return Response{}, OutcomeFailed
	}

	base := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		resp, err := c.attempt(base, call.Endpoint, body)
		if err == nil {
			c.observe(OutcomeOK)
			return resp, OutcomeOK
		}
		lastErr = err
		c.logger.Warn("integration call failed",
			slog.String("endpoint", call.Endpoint),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt < c.cfg.Attempts {
			c.sleep(c.cfg.Backoff)
		}
	}

	c.fail(ctx, call, lastErr)
	return Response{}, OutcomeFailed
}

func (c *Client) attempt(ctx context.Context, endpoint string, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &HTTPError{Status: resp.StatusCode, Body: decodeBody(data)}
	}
	return Response{Status: resp.StatusCode, Body: data}, nil
}

func (c *Client) fail(ctx context.Context, call Call, err error) {
	c.observe(OutcomeFailed)
	if c.auditor == nil {
		return
	}
	after := map[string]any{
		"source":   audit.Source,
		"target":   c.cfg.Target,
		"endpoint": call.Endpoint,
		"method":   http.MethodPost,
	}
	for k, v := range call.Fields {
		after[k] = v
	}
	c.auditor.Emit(ctx, audit.Entry{
		Action:     audit.ActionIntegrationFailed,
		EntityType: "integrations",
		Changes:    audit.Changes{After: after},
		Metadata:   map[string]any{"error": errorDetail(err)},
	})
}

func (c *Client) observe(outcome Outcome) {
	if c.metrics != nil {
		c.metrics.ObserveIntegration(c.cfg.Target, outcome.String())
	}
}

func errorDetail(err error) any {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return err.Error()
}

func decodeBody(data []byte) any {
	if len(data) == 0 {
		return map[string]any{}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err == nil {
		return decoded
	}
	return string(data)
}
