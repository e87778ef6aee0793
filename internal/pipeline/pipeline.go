// Package pipeline orchestrates a full static-artifact build run: branch
// sync, fan-out of per-asset build tasks, the join barrier, artifact
// collection, store uploads and the final manifest-driven merge.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/collector"
	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/events"
	"github.com/kata-ci/staticbuild/internal/executor"
	"github.com/kata-ci/staticbuild/internal/gitsync"
	"github.com/kata-ci/staticbuild/internal/history"
	"github.com/kata-ci/staticbuild/internal/logfields"
	"github.com/kata-ci/staticbuild/internal/merger"
	"github.com/kata-ci/staticbuild/internal/metrics"
	"github.com/kata-ci/staticbuild/internal/retry"
	"github.com/kata-ci/staticbuild/internal/store"
)

// TaskRunner abstracts the parallel build executor so tests can substitute
// fabricated task outcomes.
type TaskRunner interface {
	ExecuteAll(ctx context.Context, assets []catalog.Asset, cfg *config.RunConfig) []*executor.BuildTask
}

// BranchSyncer abstracts the git precondition step.
type BranchSyncer func(repoPath, branch string) error

// Request contains all inputs for one pipeline run.
type Request struct {
	Config *config.RunConfig

	// RepoPath is the source tree; used only when Config.TargetBranch is
	// set.
	RepoPath string

	// ManifestPath locates the version manifest consumed at merge time.
	ManifestPath string

	// OutputPath is the canonical path of the merged tarball.
	OutputPath string
}

// Status is the terminal state of a run. Partial success (some assets built,
// merge not attempted) is distinct from both full success and a merge-stage
// failure; artifact-failed covers collection and store upload failures,
// where every build succeeded but the merge was never reached or its result
// could not be delivered.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusBuildFailed    Status = "build-failed"
	StatusArtifactFailed Status = "artifact-failed"
	StatusMergeFailed    Status = "merge-failed"
)

// AssetOutcome is the per-asset slice of a run result.
type AssetOutcome struct {
	Asset    string
	Status   executor.TaskStatus
	Err      error
	Duration time.Duration
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID    string
	Status   Status
	Outcomes []AssetOutcome
	Tarball  *merger.MergedTarball
	Duration time.Duration
}

// Service wires the pipeline's collaborators together. Only Catalog and
// Runner are required; every other field is optional and nil-safe.
type Service struct {
	Catalog   *catalog.Catalog
	Runner    TaskRunner
	Collector *collector.Collector

	// Store receives the per-asset artifact blobs and the merged tarball;
	// nil disables uploads.
	Store store.Store

	Recorder  metrics.Recorder
	History   *history.Store
	Publisher *events.Publisher

	// UploadPolicy governs retries of store uploads (idempotent by the
	// Store contract).
	UploadPolicy retry.Policy

	// SyncBranch is the branch-sync precondition; nil selects gitsync.
	SyncBranch BranchSyncer
}

// Run executes the pipeline to a terminal state. The Result is returned even
// on failure so callers can report per-asset outcomes; err is non-nil for
// any terminal state other than success.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	cfg := req.Config
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	rec := metrics.OrNop(s.Recorder)

	slog.Info("Pipeline run starting",
		logfields.RunID(res.RunID),
		logfields.Stage(string(cfg.Stage)),
		logfields.Arch(cfg.Arch))
	s.Publisher.Publish(events.RunEvent{Type: events.RunStarted, RunID: res.RunID, Stage: string(cfg.Stage), Arch: cfg.Arch})
	if s.History != nil {
		if err := s.History.RunStarted(ctx, res.RunID, string(cfg.Stage), cfg.Arch); err != nil {
			slog.Warn("Failed to record run start", logfields.Error(err))
		}
	}

	finish := func(status Status, err error) (*Result, error) {
		res.Status = status
		res.Duration = time.Since(start)
		rec.ObserveRunDuration(res.Duration)
		rec.IncRunOutcome(string(status))
		evType := events.RunCompleted
		if status != StatusSuccess {
			evType = events.RunFailed
		}
		s.Publisher.Publish(events.RunEvent{Type: evType, RunID: res.RunID, Stage: string(cfg.Stage), Arch: cfg.Arch, Status: string(status)})
		if s.History != nil {
			if herr := s.History.RunFinished(ctx, res.RunID, string(status), res.Duration); herr != nil {
				slog.Warn("Failed to record run finish", logfields.Error(herr))
			}
		}
		slog.Info("Pipeline run finished",
			logfields.RunID(res.RunID),
			logfields.Status(string(status)),
			logfields.DurationMS(float64(res.Duration.Milliseconds())))
		return res, err
	}

	// Precondition: sync the working tree before any build starts.
	if cfg.TargetBranch != "" {
		sync := s.SyncBranch
		if sync == nil {
			sync = gitsync.SyncBranch
		}
		if err := sync(req.RepoPath, cfg.TargetBranch); err != nil {
			return finish(StatusBuildFailed, err)
		}
	}

	assets := s.Catalog.ListAssets(cfg.Stage)
	rec.SetTaskConcurrency(len(assets))
	slog.Info("Fanning out build tasks", logfields.RunID(res.RunID), logfields.Count(len(assets)))

	tasks := s.Runner.ExecuteAll(ctx, assets, cfg)

	// Barrier reached: every task is terminal.
	var failed []string
	for _, task := range tasks {
		res.Outcomes = append(res.Outcomes, AssetOutcome{
			Asset:    task.Asset.Name,
			Status:   task.Status,
			Err:      task.Err,
			Duration: task.Duration,
		})
		if s.History != nil {
			msg := ""
			if task.Err != nil {
				msg = task.Err.Error()
			}
			if err := s.History.TaskFinished(ctx, res.RunID, task.Asset.Name, string(task.Status), msg, task.Duration); err != nil {
				slog.Warn("Failed to record task outcome", logfields.Asset(task.Asset.Name), logfields.Error(err))
			}
		}
		if task.Status != executor.TaskSucceeded {
			failed = append(failed, task.Asset.Name)
		}
	}
	if len(failed) > 0 {
		err := pkgerrors.New(pkgerrors.CategoryBuild, pkgerrors.SeverityFatal, "required asset builds failed").
			WithContext("assets", strings.Join(failed, ","))
		return finish(StatusBuildFailed, err)
	}

	coll := s.Collector
	if coll == nil {
		coll = &collector.Collector{Catalog: s.Catalog}
	}
	records, err := coll.Collect(tasks)
	if err != nil {
		return finish(StatusArtifactFailed, err)
	}

	if err := s.uploadArtifacts(ctx, cfg, records); err != nil {
		return finish(StatusArtifactFailed, err)
	}

	manifest, err := merger.LoadManifest(req.ManifestPath)
	if err != nil {
		return finish(StatusMergeFailed, err)
	}
	merged, err := merger.Merge(records, manifest, s.Catalog.ExpectedNames(cfg.Stage), req.OutputPath)
	if err != nil {
		return finish(StatusMergeFailed, err)
	}
	res.Tarball = merged

	if s.Store != nil {
		if err := s.putWithRetry(ctx, TarballBlobName(cfg), merged.Path); err != nil {
			return finish(StatusArtifactFailed, err)
		}
	}

	return finish(StatusSuccess, nil)
}

// uploadArtifacts hands every retained per-asset artifact to the blob store.
func (s *Service) uploadArtifacts(ctx context.Context, cfg *config.RunConfig, records []collector.ArtifactRecord) error {
	if s.Store == nil {
		return nil
	}
	for _, r := range records {
		if !r.Retained {
			continue
		}
		if err := s.putWithRetry(ctx, ArtifactBlobName(cfg, r.AssetName), r.Path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) putWithRetry(ctx context.Context, name, path string) error {
	return s.UploadPolicy.Do(ctx, func() error {
		return s.Store.Put(ctx, name, path)
	})
}

// ArtifactBlobName is the store name of one asset's artifact blob.
func ArtifactBlobName(cfg *config.RunConfig, asset string) string {
	return fmt.Sprintf("kata-artifacts-%s-%s%s", cfg.Arch, asset, cfg.TarballSuffix)
}

// TarballBlobName is the store name of the merged tarball blob.
func TarballBlobName(cfg *config.RunConfig) string {
	return fmt.Sprintf("kata-static-tarball-%s%s", cfg.Arch, cfg.TarballSuffix)
}
