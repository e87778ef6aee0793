package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	taskDuration    *prom.HistogramVec
	taskResults     *prom.CounterVec
	runDuration     prom.Histogram
	runOutcome      *prom.CounterVec
	taskConcurrency prom.Gauge
}

// NewPrometheusRecorder constructs a recorder and registers its metrics on
// reg. Call it at most once per registry; re-registering the same metric
// names panics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "staticbuild",
		Name:      "task_duration_seconds",
		Help:      "Duration of individual asset build tasks",
		Buckets:   prom.DefBuckets,
	}, []string{"asset", "result"})
	pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "staticbuild",
		Name:      "task_results_total",
		Help:      "Build task results by success/failure",
	}, []string{"result"})
	pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "staticbuild",
		Name:      "run_duration_seconds",
		Help:      "Total pipeline run duration",
		Buckets:   prom.DefBuckets,
	})
	pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "staticbuild",
		Name:      "run_outcomes_total",
		Help:      "Pipeline run outcomes by terminal status",
	}, []string{"outcome"})
	pr.taskConcurrency = prom.NewGauge(prom.GaugeOpts{
		Namespace: "staticbuild",
		Name:      "task_concurrency",
		Help:      "Observed task concurrency for the last run",
	})
	reg.MustRegister(pr.taskDuration, pr.taskResults, pr.runDuration, pr.runOutcome, pr.taskConcurrency)
	return pr
}

func (pr *PrometheusRecorder) ObserveTask(asset string, d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	pr.taskDuration.WithLabelValues(asset, result).Observe(d.Seconds())
	pr.taskResults.WithLabelValues(result).Inc()
}

func (pr *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	pr.runDuration.Observe(d.Seconds())
}

func (pr *PrometheusRecorder) IncRunOutcome(outcome string) {
	pr.runOutcome.WithLabelValues(outcome).Inc()
}

func (pr *PrometheusRecorder) SetTaskConcurrency(n int) {
	pr.taskConcurrency.Set(float64(n))
}
