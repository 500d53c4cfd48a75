package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every observer metric plus the process and Go collectors.
// The global default registry is left untouched.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	EventsObserved = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "osiris_observer_events_observed_total",
		Help: "Cluster events pulled from the watch, labelled by classification.",
	}, []string{"classification"})

	HTTPAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "osiris_observer_http_attempts_total",
		Help: "Outbound HTTP attempts, labelled by outcome.",
	}, []string{"outcome"})

	HTTPRetries = factory.NewCounter(prometheus.CounterOpts{
		Name: "osiris_observer_http_retries_total",
		Help: "Outbound HTTP retries scheduled by the retry policy.",
	})

	Deliveries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "osiris_observer_deliveries_total",
		Help: "Build notifications handled by the forwarder, labelled by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	DeliveryDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "osiris_observer_delivery_duration_seconds",
		Help:    "Time spent delivering a build notification including retries.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120, 600},
	}, []string{"endpoint"})

	LoginAccepted = factory.NewGauge(prometheus.GaugeOpts{
		Name: "osiris_observer_login_accepted",
		Help: "1 if the startup login was accepted by Osiris, 0 otherwise.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
