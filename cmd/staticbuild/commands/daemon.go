package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kata-ci/staticbuild/internal/config"
	"github.com/kata-ci/staticbuild/internal/daemon"
	"github.com/kata-ci/staticbuild/internal/gitsync"
	"github.com/kata-ci/staticbuild/internal/metrics"
	"github.com/kata-ci/staticbuild/internal/pipeline"
)

// DaemonCmd implements the 'daemon' command: stay resident, rebuild on a
// schedule and whenever the version manifest changes, and expose status and
// metrics over HTTP.
type DaemonCmd struct {
	Stage       string        `short:"s" help:"Build stage (test|release)" default:"test"`
	Arch        string        `short:"a" help:"Target architecture (defaults to the host)"`
	Repo        string        `short:"r" help:"Source repository path" default:"."`
	Manifest    string        `short:"m" help:"Version manifest path" default:"versions.yaml"`
	Output      string        `short:"o" help:"Merged tarball path" default:"kata-static.tar.xz"`
	BuildRoot   string        `help:"Scratch directory for per-asset builds" default:"./build"`
	Staging     string        `help:"Directory collecting per-asset artifacts" default:"./staging"`
	StoreDir    string        `name:"store" help:"Blob store directory; empty disables uploads"`
	HistoryDB   string        `name:"history-db" help:"SQLite run history path" default:"staticbuild.db"`
	NatsURL     string        `name:"nats-url" help:"NATS server for run events; empty disables publishing"`
	Interval    time.Duration `help:"Interval between scheduled runs (0 disables the schedule)" default:"24h"`
	Listen      string        `help:"HTTP bind address for /healthz, /status and /metrics" default:":8085"`
	NoWatch     bool          `name:"no-watch" help:"Disable manifest watching"`
	Concurrency int           `short:"j" help:"Max parallel asset builds (0 = unbounded)"`
	RunOnStart  bool          `name:"run-on-start" help:"Trigger one run immediately at startup"`
}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	if err := loadEnv(root); err != nil {
		return err
	}

	cfg, err := config.BuildRunConfig(config.RawInputs{
		Stage:        d.Stage,
		Arch:         d.Arch,
		RepoPath:     d.Repo,
		HeadResolver: gitsync.Head,
	})
	if err != nil {
		return err
	}

	cat, err := loadCatalog(root)
	if err != nil {
		return err
	}

	registry := prom.NewRegistry()
	registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(registry)

	svc, cleanup, err := assemblePipeline(cat, d.BuildRoot, d.Staging, d.StoreDir, d.HistoryDB, d.NatsURL, d.Concurrency, recorder)
	if err != nil {
		return err
	}
	defer cleanup()

	dm := daemon.New(svc, pipeline.Request{
		Config:       cfg,
		RepoPath:     d.Repo,
		ManifestPath: d.Manifest,
		OutputPath:   d.Output,
	}, daemon.Options{
		Interval:       d.Interval,
		WatchManifest:  !d.NoWatch,
		ListenAddr:     d.Listen,
		MetricsHandler: metrics.HTTPHandler(registry),
	})

	if d.RunOnStart {
		dm.Trigger("startup")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return dm.Run(ctx)
}
