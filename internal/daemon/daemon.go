// Package daemon keeps the build pipeline resident: a periodic schedule and
// a manifest watcher feed a single-worker run queue, and a small HTTP
// surface exposes health, status and Prometheus metrics.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kata-ci/staticbuild/internal/logfields"
	"github.com/kata-ci/staticbuild/internal/pipeline"
)

// Options configures the resident daemon.
type Options struct {
	// Interval between scheduled runs; zero disables the schedule.
	Interval time.Duration

	// WatchManifest enables retriggering on version manifest changes.
	WatchManifest bool

	// ListenAddr is the HTTP bind address; empty disables the server.
	ListenAddr string

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// Daemon owns the long-running pipeline loop. Runs never overlap: triggers
// arriving while a run is in flight collapse into at most one pending run.
type Daemon struct {
	Service *pipeline.Service

	// Request is the template for every triggered run.
	Request pipeline.Request

	Options Options

	workers  workerGroup
	runChan  chan string
	stopChan chan struct{}

	mu   sync.RWMutex
	last *pipeline.Result

	scheduler *Scheduler
	watcher   *ManifestWatcher
	httpSrv   *http.Server
}

// New creates a daemon around the given pipeline service.
func New(svc *pipeline.Service, req pipeline.Request, opts Options) *Daemon {
	return &Daemon{
		Service:  svc,
		Request:  req,
		Options:  opts,
		runChan:  make(chan string, 1),
		stopChan: make(chan struct{}),
	}
}

// Trigger requests a pipeline run. If one is already queued the trigger is
// coalesced into it.
func (d *Daemon) Trigger(reason string) {
	select {
	case d.runChan <- reason:
	default:
		slog.Debug("Run already pending, coalescing trigger", logfields.Status(reason))
	}
}

// LastResult returns the most recent run result, or nil before the first run.
func (d *Daemon) LastResult() *pipeline.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("Daemon starting",
		logfields.Stage(string(d.Request.Config.Stage)),
		logfields.Arch(d.Request.Config.Arch))

	if d.Options.Interval > 0 {
		sched, err := NewScheduler(d.Trigger)
		if err != nil {
			return err
		}
		if _, err := sched.SchedulePeriodicRun(d.Options.Interval); err != nil {
			return err
		}
		sched.Start(ctx)
		d.scheduler = sched
	}

	if d.Options.WatchManifest {
		watcher, err := NewManifestWatcher(d.Request.ManifestPath, d.Trigger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		d.watcher = watcher
	}

	if d.Options.ListenAddr != "" {
		d.startHTTP()
	}

	d.workers.Go(func() { d.runLoop(ctx) })

	<-ctx.Done()
	return d.shutdown()
}

// runLoop is the single consumer of the trigger queue, so runs are
// serialized by construction.
func (d *Daemon) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case reason := <-d.runChan:
			slog.Info("Daemon run starting", logfields.Status(reason))
			res, err := d.Service.Run(ctx, d.Request)
			if err != nil {
				slog.Error("Daemon run failed", logfields.Error(err))
			}
			if res != nil {
				d.mu.Lock()
				d.last = res
				d.mu.Unlock()
			}
		}
	}
}

func (d *Daemon) shutdown() error {
	slog.Info("Daemon stopping")
	close(d.stopChan)

	if d.scheduler != nil {
		if err := d.scheduler.Stop(context.Background()); err != nil {
			slog.Error("Scheduler shutdown failed", logfields.Error(err))
		}
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", logfields.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.workers.StopAndWait(waitCtx)
}
