// Package telemetry builds the process's logger and metrics registry and hands
// them out as one explicit handle.
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"poolbridge/internal/config"
)

// LevelTrace sits below slog's debug level.
const LevelTrace = slog.LevelDebug - 4

type Telemetry struct {
	Logger  *slog.Logger
	metrics *metricsRegistry
}

// Setup builds a Telemetry from cfg. Stdout telemetry writes JSON lines to
// os.Stdout; sink telemetry discards log output but still collects metrics.
func Setup(cfg config.TelemetryConfig) (*Telemetry, error) {
	var out io.Writer
	switch cfg.Kind {
	case "", "stdout":
		out = os.Stdout
	case "sink":
		out = io.Discard
	default:
		return nil, fmt.Errorf("unknown telemetry kind %q", cfg.Kind)
	}
	return New(cfg, out)
}

// New builds a Telemetry writing JSON logs to out.
func New(cfg config.TelemetryConfig, out io.Writer) (*Telemetry, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	base := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	logger := slog.New(NewRedactingHandler(base))
	if cfg.ServiceName != "" {
		logger = logger.With("service", cfg.ServiceName)
	}
	return &Telemetry{Logger: logger, metrics: newMetricsRegistry()}, nil
}

// Nop returns a Telemetry that drops all logs, for tests and one-shot CLI calls.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		metrics: newMetricsRegistry(),
	}
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}

func (t *Telemetry) MetricsHandler() http.Handler { return t.metrics.handler() }

// InstrumentTransport returns next wrapped with request counters, latency
// histograms and an in-flight gauge labelled client=name. A nil next means
// http.DefaultTransport.
func (t *Telemetry) InstrumentTransport(name string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return t.metrics.instrument(name, next)
}

// HTTPClient is an http.Client whose transport is instrumented under name.
func (t *Telemetry) HTTPClient(name string) *http.Client {
	return &http.Client{Transport: t.InstrumentTransport(name, nil)}
}

func (t *Telemetry) IncSubmission(status string) {
	t.metrics.submissionsTotal.WithLabelValues(status).Inc()
}

func (t *Telemetry) IncJobPoll(state string) {
	t.metrics.jobPollsTotal.WithLabelValues(state).Inc()
}

func (t *Telemetry) SetPendingJobs(n int) {
	t.metrics.pendingJobs.Set(float64(n))
}
