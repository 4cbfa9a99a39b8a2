// Package metrics exposes prometheus collectors for lookups, clicks and
// lifecycle transitions.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/web-doodle/emubot/pkg/logging"
)

type Metrics struct {
	registry *prometheus.Registry

	MatchAttempts  *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
	LookupAttempts *prometheus.HistogramVec
	Clicks         prometheus.Counter
	Transitions    *prometheus.CounterVec
	EmulatorState  prometheus.Gauge
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MatchAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emubot_match_attempts_total",
				Help: "Single match attempts by element kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		LookupDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emubot_lookup_duration_seconds",
				Help:    "Element lookup duration including retries",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "found"},
		),
		LookupAttempts: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emubot_lookup_attempts",
				Help:    "Attempts spent per element lookup",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"kind"},
		),
		Clicks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "emubot_clicks_total",
				Help: "Taps sent to the emulator",
			},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emubot_state_transitions_total",
				Help: "Lifecycle transitions by machine and target state",
			},
			[]string{"machine", "to"},
		),
		EmulatorState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "emubot_emulator_state",
				Help: "Current emulator state (0 closed, 1 loading, 2 ready)",
			},
		),
	}
}

func (m *Metrics) ObserveAttempt(kind, outcome string) {
	m.MatchAttempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveLookup(kind string, found bool, attempts int, elapsed time.Duration) {
	m.LookupDuration.WithLabelValues(kind, strconv.FormatBool(found)).Observe(elapsed.Seconds())
	m.LookupAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

func (m *Metrics) AddClicks(n int) {
	m.Clicks.Add(float64(n))
}

func (m *Metrics) ObserveTransition(machine, to string) {
	m.Transitions.WithLabelValues(machine, to).Inc()
}

func (m *Metrics) SetEmulatorState(state int) {
	m.EmulatorState.Set(float64(state))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	logger = logging.OrNop(logger).Named("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
