package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
	"github.com/kata-ci/staticbuild/internal/events"
	"github.com/kata-ci/staticbuild/internal/executor"
	"github.com/kata-ci/staticbuild/internal/gitsync"
	"github.com/kata-ci/staticbuild/internal/history"
	"github.com/kata-ci/staticbuild/internal/logfields"
	"github.com/kata-ci/staticbuild/internal/metrics"
	"github.com/kata-ci/staticbuild/internal/pipeline"
	"github.com/kata-ci/staticbuild/internal/retry"
	"github.com/kata-ci/staticbuild/internal/store"
)

// BuildCmd implements the 'build' command: fan out every asset build for a
// stage and merge the results into one tarball.
type BuildCmd struct {
	Stage       string `short:"s" help:"Build stage (test|release)" default:"test"`
	Arch        string `short:"a" help:"Target architecture (defaults to the host)"`
	Suffix      string `help:"Suffix appended to artifact blob names"`
	Push        string `name:"push" help:"Push artifacts to the registry (yes|no)" default:"no"`
	CommitRef   string `name:"commit" help:"Commit to stamp into artifacts (defaults to repo HEAD)"`
	Branch      string `help:"Branch to sync before building"`
	Repo        string `short:"r" help:"Source repository path" default:"."`
	Manifest    string `short:"m" help:"Version manifest path" default:"versions.yaml"`
	Output      string `short:"o" help:"Merged tarball path" default:"kata-static.tar.xz"`
	BuildRoot   string `help:"Scratch directory for per-asset builds" default:"./build"`
	Staging     string `help:"Directory collecting per-asset artifacts" default:"./staging"`
	StoreDir    string `name:"store" help:"Blob store directory; empty disables uploads"`
	HistoryDB   string `name:"history-db" help:"SQLite run history path; empty disables history"`
	NatsURL     string `name:"nats-url" help:"NATS server for run events; empty disables publishing"`
	Concurrency int    `short:"j" help:"Max parallel asset builds (0 = unbounded)"`
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	if err := loadEnv(root); err != nil {
		return err
	}

	cfg, err := config.BuildRunConfig(config.RawInputs{
		Stage:          b.Stage,
		TarballSuffix:  b.Suffix,
		PushToRegistry: b.Push,
		CommitRef:      b.CommitRef,
		TargetBranch:   b.Branch,
		Arch:           b.Arch,
		RepoPath:       b.Repo,
		HeadResolver:   gitsync.Head,
	})
	if err != nil {
		return err
	}

	cat, err := loadCatalog(root)
	if err != nil {
		return err
	}

	svc, cleanup, err := assemblePipeline(cat, b.BuildRoot, b.Staging, b.StoreDir, b.HistoryDB, b.NatsURL, b.Concurrency, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := svc.Run(ctx, pipeline.Request{
		Config:       cfg,
		RepoPath:     b.Repo,
		ManifestPath: b.Manifest,
		OutputPath:   b.Output,
	})
	if res != nil {
		printOutcomes(res)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Merged tarball: %s (%d assets)\n", res.Tarball.Path, len(res.Tarball.ContainedAssets))
	return nil
}

// assemblePipeline wires the optional collaborators behind their flags. The
// returned cleanup closes whatever was opened.
func assemblePipeline(cat *catalog.Catalog, buildRoot, staging, storeDir, historyDB, natsURL string, concurrency int, recorder metrics.Recorder) (*pipeline.Service, func(), error) {
	exec := &executor.Executor{
		BuildRoot:   buildRoot,
		StagingRoot: staging,
		Concurrency: concurrency,
		Recorder:    recorder,
	}

	svc := &pipeline.Service{
		Catalog:      cat,
		Runner:       exec,
		Recorder:     recorder,
		UploadPolicy: retry.DefaultPolicy(),
	}

	var closers []func()
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if storeDir != "" {
		st, err := store.NewFSStore(storeDir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		svc.Store = st
		closers = append(closers, func() { st.Close() })
	}
	if historyDB != "" {
		hist, err := history.NewStore(historyDB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		svc.History = hist
		closers = append(closers, func() { hist.Close() })
	}
	if natsURL != "" {
		pub, err := events.Connect(natsURL, events.DefaultSubject)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		svc.Publisher = pub
		closers = append(closers, func() { pub.Close() })
	}

	return svc, cleanup, nil
}

func printOutcomes(res *pipeline.Result) {
	for _, o := range res.Outcomes {
		if o.Status == executor.TaskSucceeded {
			fmt.Printf("  ok   %-40s %s\n", o.Asset, o.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Printf("  FAIL %-40s %v\n", o.Asset, o.Err)
		slog.Error("Asset build failed", logfields.Asset(o.Asset), logfields.Error(o.Err))
	}
	fmt.Fprintf(os.Stdout, "Run %s finished: %s\n", res.RunID, res.Status)
}
