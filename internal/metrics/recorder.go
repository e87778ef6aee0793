package metrics

import "time"

// Recorder defines observability hooks for pipeline and task metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc.
type Recorder interface {
	ObserveTask(asset string, d time.Duration, success bool)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome string) // outcome: success|build-failed|merge-failed
	SetTaskConcurrency(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTask(string, time.Duration, bool) {}
func (NoopRecorder) ObserveRunDuration(time.Duration)        {}
func (NoopRecorder) IncRunOutcome(string)                    {}
func (NoopRecorder) SetTaskConcurrency(int)                  {}

// OrNop returns r, or a NoopRecorder when r is nil, so callers never need a
// nil check at observation sites.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
