// Package metrics exports engine events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// DefaultBuckets returns the task duration histogram buckets (seconds).
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
}

// Observer is a deployment.EventObserver that counts settled tasks and runs.
type Observer struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	runsTotal    *prometheus.CounterVec
}

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scatter_tasks_total",
				Help: "Settled deploy and undeploy tasks",
			},
			[]string{"phase", "type", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scatter_task_duration_seconds",
				Help:    "Time from task start to settlement",
				Buckets: DefaultBuckets(),
			},
			[]string{"phase", "type"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scatter_tasks_in_flight",
				Help: "Tasks that started and have not settled yet",
			},
			[]string{"phase"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scatter_runs_total",
				Help: "Completed deploy and undeploy runs",
			},
			[]string{"phase", "outcome"},
		),
	}
	for _, c := range []prometheus.Collector{o.tasksTotal, o.taskDuration, o.inFlight, o.runsTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// ObserveEvent implements deployment.EventObserver.
func (o *Observer) ObserveEvent(ev deployment.Event) {
	phase := string(ev.Phase)
	switch ev.Type {
	case deployment.TaskRunning:
		o.inFlight.WithLabelValues(phase).Inc()
	case deployment.TaskSucceeded, deployment.TaskFailed:
		outcome := OutcomeSucceeded
		if ev.Type == deployment.TaskFailed {
			outcome = OutcomeFailed
		}
		o.inFlight.WithLabelValues(phase).Dec()
		o.tasksTotal.WithLabelValues(phase, ev.TypeName, outcome).Inc()
		o.taskDuration.WithLabelValues(phase, ev.TypeName).Observe(ev.Duration.Seconds())
	case deployment.RunCompleted:
		outcome := OutcomeSucceeded
		if ev.Error != "" {
			outcome = OutcomeFailed
		}
		o.runsTotal.WithLabelValues(phase, outcome).Inc()
	}
}

// Handler serves /metrics from g, plus a /healthz probe.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the metrics listener on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logr.Logger) error {
	srv := &http.Server{Addr: addr, Handler: Handler(g), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.V(1).Info("metrics listener ready", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
