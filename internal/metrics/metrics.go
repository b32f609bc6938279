// Package metrics exposes Prometheus metrics for pipeline runs.
//
// An [Observer] turns run events into counter and histogram updates, so the
// orchestrator only ever talks to observe.Observer.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    *prometheus.GaugeVec
	stagesTotal     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageRetries    *prometheus.CounterVec
	rolloutsTotal   *prometheus.CounterVec
	publishSkipped  *prometheus.CounterVec
	resourceChanges *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipyard",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of finished runs by status",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shipyard",
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
			[]string{"pipeline"},
		),
		runsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shipyard",
				Subsystem: "pipeline",
				Name:      "runs_in_flight",
				Help:      "Number of non-terminal runs",
			},
			[]string{"pipeline"},
		),
		stagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipyard",
				Subsystem: "stage",
				Name:      "results_total",
				Help:      "Total number of stage outcomes by result and error kind",
			},
			[]string{"pipeline", "stage", "result", "kind"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shipyard",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Duration of finished stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
			},
			[]string{"pipeline", "stage"},
		),
		stageRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipyard",
				Subsystem: "stage",
				Name:      "retries_total",
				Help:      "Total number of stage retry attempts",
			},
			[]string{"pipeline", "stage"},
		),
		rolloutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipyard",
				Subsystem: "deploy",
				Name:      "rollout_states_total",
				Help:      "Total number of rollout state transitions by state",
			},
			[]string{"pipeline", "target", "state"},
		),
		publishSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipyard",
				Subsystem: "registry",
				Name:      "push_skipped_total",
				Help:      "Tags not pushed because the registry already held the digest",
			},
			[]string{"pipeline"},
		),
		resourceChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipyard",
				Subsystem: "provision",
				Name:      "resource_changes_total",
				Help:      "Cloud resources created or deleted by kind and action",
			},
			[]string{"pipeline", "kind", "action"},
		),
	}

	reg.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.runsInFlight,
		m.stagesTotal,
		m.stageDuration,
		m.stageRetries,
		m.rolloutsTotal,
		m.publishSkipped,
		m.resourceChanges,
	)
	return m
}

// Observer returns an observe.Observer that records metrics for pipeline.
func (m *Metrics) Observer(pipeline string) observe.Observer {
	return &Observer{m: m, pipeline: pipeline}
}

// Observer translates run events into metric updates.
type Observer struct {
	m        *Metrics
	pipeline string
}

// Event implements observe.Observer.
func (o *Observer) Event(e observe.Event) {
	m := o.m
	switch e.Type {
	case observe.EventRunStarted:
		m.runsInFlight.WithLabelValues(o.pipeline).Inc()
	case observe.EventRunFinished:
		m.runsInFlight.WithLabelValues(o.pipeline).Dec()
		m.runsTotal.WithLabelValues(o.pipeline, e.Fields["status"]).Inc()
		if e.Duration > 0 {
			m.runDuration.WithLabelValues(o.pipeline).Observe(e.Duration.Seconds())
		}
	case observe.EventStageSucceeded, observe.EventStageFailed, observe.EventStageSkipped:
		result := string(e.Type)[len("stage."):]
		m.stagesTotal.WithLabelValues(o.pipeline, e.Stage, result, string(failure.KindOf(e.Err))).Inc()
		if e.Type != observe.EventStageSkipped {
			m.stageDuration.WithLabelValues(o.pipeline, e.Stage).Observe(e.Duration.Seconds())
		}
	case observe.EventStageRetrying:
		m.stageRetries.WithLabelValues(o.pipeline, e.Stage).Inc()
	case observe.EventRolloutState:
		m.rolloutsTotal.WithLabelValues(o.pipeline, e.Resource, e.Fields["state"]).Inc()
	case observe.EventPublishSkip:
		m.publishSkipped.WithLabelValues(o.pipeline).Inc()
	case observe.EventResourceCreated:
		m.resourceChanges.WithLabelValues(o.pipeline, e.Fields["kind"], "created").Inc()
	case observe.EventResourceDeleted:
		m.resourceChanges.WithLabelValues(o.pipeline, e.Fields["kind"], "deleted").Inc()
	}
}

// Progress implements observe.Observer.
func (o *Observer) Progress(string, int, int) {}

// WithFields implements observe.Observer.
func (o *Observer) WithFields(map[string]string) observe.Observer { return o }

// Serve exposes the registry on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
