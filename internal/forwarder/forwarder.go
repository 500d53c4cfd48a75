package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CermakM/osiris-build-observer/internal/event"
	"github.com/CermakM/osiris-build-observer/internal/metrics"
	"github.com/CermakM/osiris-build-observer/internal/retry"
)

// DefaultTimeout bounds each delivery attempt.
const DefaultTimeout = 60 * time.Second

// Sender is the subset of retry.Client used by the forwarder.
type Sender interface {
	Send(ctx context.Context, req *retry.Request, timeout time.Duration) (*retry.Response, error)
}

// Config configures a Forwarder.
type Config struct {
	BaseURL   string
	DryRun    bool
	Timeout   time.Duration
	Gzip      bool
	UserAgent string
}

// Result describes a handled build notification.
type Result struct {
	Endpoint   string
	URL        string
	StatusCode int
	Retries    int
	DryRun     bool
}

// DeliveryError is returned when Osiris did not accept a notification. The
// event is dropped by the caller.
type DeliveryError struct {
	Endpoint   string
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("deliver to %s: unexpected status %d %q", e.URL, e.StatusCode, e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Forwarder delivers build projections to Osiris.
type Forwarder struct {
	sender    Sender
	baseURL   string
	dryRun    bool
	timeout   time.Duration
	gzip      bool
	userAgent string
	logger    *slog.Logger
}

// New returns a configured Forwarder.
func New(sender Sender, cfg Config, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "osiris-build-observer"
	}
	return &Forwarder{
		sender:    sender,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		dryRun:    cfg.DryRun,
		timeout:   timeout,
		gzip:      cfg.Gzip,
		userAgent: userAgent,
		logger:    logger.With(slog.String("component", "forwarder")),
	}
}

// Forward sends p to the matching build hook. In dry-run mode the request is
// built and logged but not sent.
func (f *Forwarder) Forward(ctx context.Context, p event.BuildProjection) (Result, error) {
	endpoint := EndpointFor(p)
	req, err := f.NewRequest(p)
	if err != nil {
		metrics.Deliveries.WithLabelValues(endpoint, "serialization_error").Inc()
		return Result{Endpoint: endpoint}, err
	}
	result := Result{Endpoint: endpoint, URL: req.URL, DryRun: f.dryRun}

	f.logger.Info("posting build event",
		slog.String("build", p.BuildName),
		slog.String("reason", p.Reason),
		slog.String("url", req.URL),
	)
	f.logger.Debug("request",
		slog.String("method", req.Method),
		slog.String("deliveryId", req.Header.Get(DeliveryIDHeader)),
		slog.String("body", printableBody(req)),
	)

	if f.dryRun {
		metrics.Deliveries.WithLabelValues(endpoint, "dry_run").Inc()
		f.logger.Info("finished", slog.String("build", p.BuildName))
		return result, nil
	}

	start := time.Now()
	resp, err := f.sender.Send(ctx, req, f.timeout)
	metrics.DeliveryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Deliveries.WithLabelValues(endpoint, "transport_failure").Inc()
		var tf *retry.TransportFailure
		if errors.As(err, &tf) {
			result.StatusCode = tf.LastStatus
			result.Retries = tf.Retries
		}
		return result, &DeliveryError{Endpoint: endpoint, URL: req.URL, StatusCode: result.StatusCode, Err: err}
	}

	result.StatusCode = resp.StatusCode
	result.Retries = resp.Retries
	if resp.StatusCode != http.StatusAccepted {
		metrics.Deliveries.WithLabelValues(endpoint, "rejected").Inc()
		f.logger.Debug("response",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(resp.Body)),
		)
		return result, &DeliveryError{Endpoint: endpoint, URL: req.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	metrics.Deliveries.WithLabelValues(endpoint, "success").Inc()
	f.logger.Info("success",
		slog.String("build", p.BuildName),
		slog.Int("retries", resp.Retries),
	)
	return result, nil
}

func printableBody(req *retry.Request) string {
	if req.Header.Get("Content-Encoding") == "gzip" {
		return fmt.Sprintf("<gzip %d bytes>", len(req.Body))
	}
	return string(req.Body)
}
