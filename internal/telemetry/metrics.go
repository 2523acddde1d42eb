package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	outboundTotal    *prometheus.CounterVec
	outboundDuration *prometheus.HistogramVec
	outboundInFlight *prometheus.GaugeVec
	submissionsTotal *prometheus.CounterVec
	jobPollsTotal    *prometheus.CounterVec
	pendingJobs      prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	outbound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poolbridge_outbound_requests_total",
		Help: "HTTP requests sent to the chain node and the relayer",
	}, []string{"client", "code", "method"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poolbridge_outbound_request_duration_seconds",
		Help:    "Latency of HTTP requests sent to the chain node and the relayer",
		Buckets: prometheus.DefBuckets,
	}, []string{"client"})

	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "poolbridge_outbound_requests_in_flight",
		Help: "Outbound requests currently waiting for a response",
	}, []string{"client"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poolbridge_transactions_submitted_total",
		Help: "Transaction batches forwarded to the relayer",
	}, []string{"status"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poolbridge_job_polls_total",
		Help: "Relayer job observations by resulting state",
	}, []string{"state"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "poolbridge_jobs_pending",
		Help: "Stored jobs not yet mined or failed",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(outbound, duration, inFlight, submissions, polls, pending)

	return &metricsRegistry{
		registry:         r,
		outboundTotal:    outbound,
		outboundDuration: duration,
		outboundInFlight: inFlight,
		submissionsTotal: submissions,
		jobPollsTotal:    polls,
		pendingJobs:      pending,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument wraps next so every round trip is counted and timed under the
// given client label.
func (m *metricsRegistry) instrument(client string, next http.RoundTripper) http.RoundTripper {
	labels := prometheus.Labels{"client": client}
	counter := m.outboundTotal.MustCurryWith(labels)
	duration := m.outboundDuration.MustCurryWith(labels)
	return promhttp.InstrumentRoundTripperInFlight(m.outboundInFlight.WithLabelValues(client),
		promhttp.InstrumentRoundTripperCounter(counter,
			promhttp.InstrumentRoundTripperDuration(duration, next)))
}
