package observer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CermakM/osiris-build-observer/internal/event"
	"github.com/CermakM/osiris-build-observer/internal/forwarder"
	"github.com/CermakM/osiris-build-observer/internal/metrics"
	"github.com/CermakM/osiris-build-observer/internal/retry"
	"github.com/CermakM/osiris-build-observer/internal/status"
)

// ErrStreamClosed is reported when the event source ends its stream.
var ErrStreamClosed = errors.New("event stream closed")

// StreamError ends the watch loop. It is the only error Run returns besides
// context cancellation.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("event stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Source yields cluster events one at a time. It may block between events and
// is not restartable; io.EOF marks the end of the stream.
type Source interface {
	Next(ctx context.Context) (event.ClusterEvent, error)
}

// Forwarder delivers build projections.
type Forwarder interface {
	Forward(ctx context.Context, p event.BuildProjection) (forwarder.Result, error)
}

// Orchestrator pulls events sequentially and forwards the relevant ones.
type Orchestrator struct {
	forwarder   Forwarder
	clusterHost string
	store       *status.Store
	logger      *slog.Logger
	now         func() time.Time
}

// New returns an Orchestrator. clusterHost is used to build links to builds.
func New(fwd Forwarder, clusterHost string, store *status.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		forwarder:   fwd,
		clusterHost: clusterHost,
		store:       store,
		logger:      logger.With(slog.String("component", "observer")),
		now:         time.Now,
	}
}

// Run processes events from source until the stream fails or ctx is done. Each
// event is handled completely before the next one is pulled.
func (o *Orchestrator) Run(ctx context.Context, source Source) error {
	o.store.SetWatching(true)
	for {
		e, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				o.store.SetWatching(false)
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			streamErr := &StreamError{Err: err}
			o.store.SetStreamError(streamErr)
			return streamErr
		}
		o.Handle(ctx, e)
	}
}

// Handle classifies e and forwards it when relevant. Delivery failures are
// logged and recorded; they never stop the loop.
func (o *Orchestrator) Handle(ctx context.Context, e event.ClusterEvent) {
	relevant := event.IsRelevant(e)
	o.store.ObserveEvent(relevant)
	if !relevant {
		if event.IsPodEvent(e) {
			metrics.EventsObserved.WithLabelValues("pod").Inc()
			o.logger.Debug("pod event ignored", slog.String("reason", e.Reason), slog.String("pod", e.InvolvedObject.Name))
			return
		}
		metrics.EventsObserved.WithLabelValues("ignored").Inc()
		return
	}
	metrics.EventsObserved.WithLabelValues("relevant").Inc()

	o.logger.Debug("new event received",
		slog.String("event", e.Name),
		slog.String("reason", e.Reason),
		slog.String("kind", e.InvolvedObject.Kind),
		slog.String("name", e.InvolvedObject.Name),
	)

	p := event.Project(e, o.clusterHost, o.now())
	result, err := o.forwarder.Forward(ctx, p)
	delivery := status.Delivery{
		Build:      p.BuildName,
		Endpoint:   result.Endpoint,
		StatusCode: result.StatusCode,
		Retries:    result.Retries,
		DryRun:     result.DryRun,
		At:         o.now().UTC(),
	}
	if err != nil {
		delivery.Error = err.Error()
		attrs := []any{
			slog.String("build", p.BuildName),
			slog.String("endpoint", result.Endpoint),
			slog.String("error", err.Error()),
		}
		if retry.IsTransportFailure(err) {
			o.logger.Error("failure, max retries exceeded, skipping", attrs...)
		} else {
			o.logger.Warn("failure, build event dropped", append(attrs, slog.Int("status", result.StatusCode))...)
		}
	}
	o.store.RecordDelivery(delivery)
}
