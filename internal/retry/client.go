package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/CermakM/osiris-build-observer/internal/metrics"
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is a replayable outbound request. Body is kept as bytes so every
// attempt gets a fresh reader.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// Retries is the number of retries spent before this response.
	Retries int
}

// TransportFailure is returned when a request could not be completed within
// the retry budget, or failed at connection level without being eligible for
// a retry.
type TransportFailure struct {
	Method     string
	URL        string
	Retries    int
	LastStatus int
	Err        error
}

func (e *TransportFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed after %d retries: %v", e.Method, e.URL, e.Retries, e.Err)
	}
	return fmt.Sprintf("%s %s failed after %d retries: last status %d", e.Method, e.URL, e.Retries, e.LastStatus)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// Client sends requests through a Doer, retrying transient failures according
// to its Policy.
type Client struct {
	doer   Doer
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient returns a Client that sends through doer.
func NewClient(doer Doer, policy Policy, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		doer:   doer,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns the shared *http.Client used for all Osiris traffic.
// Timeouts are applied per attempt by Client.Send, so the client has none.
// The cookie jar keeps the session established at login.
func NewHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{Transport: transport, Jar: jar}, nil
}

// Policy returns the client's retry policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Send executes req, retrying per the policy. timeout bounds each attempt; an
// attempt that times out counts as a connection-level failure.
func (c *Client) Send(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if !c.policy.Mounted(req.URL) {
		resp, err := c.attempt(ctx, req, timeout)
		var invalid *invalidRequestError
		if errors.As(err, &invalid) {
			return nil, invalid
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("send %s %s: %w", req.Method, req.URL, ctx.Err())
			}
			metrics.HTTPAttempts.WithLabelValues("connect_error").Inc()
			return nil, &TransportFailure{Method: req.Method, URL: req.URL, Err: err}
		}
		metrics.HTTPAttempts.WithLabelValues(statusOutcome(resp.StatusCode)).Inc()
		return resp, nil
	}

	eligible := c.policy.MethodAllowed(req.Method)
	total := c.policy.Total
	connect := c.policy.Connect
	retries := 0

	for {
		resp, err := c.attempt(ctx, req, timeout)
		var invalid *invalidRequestError
		switch {
		case errors.As(err, &invalid):
			return nil, invalid
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("send %s %s: %w", req.Method, req.URL, ctx.Err())
			}
			metrics.HTTPAttempts.WithLabelValues("connect_error").Inc()
			if !eligible {
				return nil, &TransportFailure{Method: req.Method, URL: req.URL, Retries: retries, Err: err}
			}
			total--
			connect--
			if total < 0 || connect < 0 {
				return nil, &TransportFailure{Method: req.Method, URL: req.URL, Retries: retries, Err: err}
			}
			c.logger.Debug("connection failure, will retry",
				slog.String("method", req.Method),
				slog.String("url", req.URL),
				slog.Int("retry", retries+1),
				slog.String("error", err.Error()),
			)
		case eligible && c.policy.RetryStatus(resp.StatusCode):
			metrics.HTTPAttempts.WithLabelValues("retryable_status").Inc()
			total--
			if total < 0 {
				return nil, &TransportFailure{Method: req.Method, URL: req.URL, Retries: retries, LastStatus: resp.StatusCode}
			}
			c.logger.Debug("retryable status, will retry",
				slog.String("method", req.Method),
				slog.String("url", req.URL),
				slog.Int("retry", retries+1),
				slog.Int("status", resp.StatusCode),
			)
		default:
			metrics.HTTPAttempts.WithLabelValues(statusOutcome(resp.StatusCode)).Inc()
			resp.Retries = retries
			return resp, nil
		}

		retries++
		metrics.HTTPRetries.Inc()
		if err := c.sleep(ctx, c.policy.Backoff(retries)); err != nil {
			return nil, fmt.Errorf("backoff before retry %d of %s %s: %w", retries, req.Method, req.URL, err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &invalidRequestError{err: err}
	}
	for key, values := range req.Header {
		httpReq.Header[key] = append([]string(nil), values...)
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

type invalidRequestError struct {
	err error
}

func (e *invalidRequestError) Error() string { return "build request: " + e.err.Error() }

func (e *invalidRequestError) Unwrap() error { return e.err }

func statusOutcome(code int) string {
	if code >= 200 && code < 300 {
		return "success"
	}
	return "status"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTransportFailure reports whether err is or wraps a *TransportFailure.
func IsTransportFailure(err error) bool {
	var tf *TransportFailure
	return errors.As(err, &tf)
}
