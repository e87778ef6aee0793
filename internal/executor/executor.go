// Package executor fans out one independent build task per asset and joins
// on all of them. A task failure never cancels sibling tasks; the caller
// decides the pipeline outcome once every task is terminal.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/logfields"
	"github.com/kata-ci/staticbuild/internal/metrics"
)

// Environment variables materialized for every build step invocation.
const (
	EnvAsset          = "KATA_ASSET"
	EnvTarballName    = "TARBALL_NAME"
	EnvRelease        = "RELEASE"
	EnvPushToRegistry = "PUSH_TO_REGISTRY"
	EnvArch           = "ARCH"
	EnvCommitRef      = "COMMIT"
)

// CommandRunner executes one build step. Injected so tests can substitute
// cheap commands for the real per-asset build scripts.
type CommandRunner func(ctx context.Context, argv []string, dir string, env []string) error

// execRunner is the default CommandRunner backed by os/exec.
func execRunner(ctx context.Context, argv []string, dir string, env []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Executor runs build tasks concurrently. Each task writes to an
// asset-scoped build directory and relocates its outputs into an
// asset-scoped staging directory, so no two tasks ever share a mutable
// filesystem namespace.
type Executor struct {
	// BuildRoot is where per-asset build directories are created.
	BuildRoot string

	// StagingRoot is where succeeded tasks' artifacts are relocated to,
	// one subdirectory per asset.
	StagingRoot string

	// Concurrency bounds the worker pool; zero means one worker per asset.
	Concurrency int

	// Runner executes the opaque build step; nil selects os/exec.
	Runner CommandRunner

	// Recorder observes per-task durations and outcomes; nil is a no-op.
	Recorder metrics.Recorder
}

// ExecuteAll runs one task per asset and returns once every task is
// terminal. The returned slice is ordered like the input assets.
func (e *Executor) ExecuteAll(ctx context.Context, assets []catalog.Asset, cfg *config.RunConfig) []*BuildTask {
	tasks := make([]*BuildTask, len(assets))
	for i, a := range assets {
		tasks[i] = &BuildTask{Asset: a, Config: cfg, Status: TaskPending}
	}
	if len(tasks) == 0 {
		return tasks
	}

	concurrency := e.Concurrency
	if concurrency <= 0 || concurrency > len(tasks) {
		concurrency = len(tasks)
	}

	queue := make(chan *BuildTask)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for range concurrency {
		go func() {
			defer wg.Done()
			for task := range queue {
				e.runOne(ctx, task)
			}
		}()
	}
	for _, task := range tasks {
		queue <- task
	}
	close(queue)
	wg.Wait()

	return tasks
}

// runOne executes a single task to a terminal state. All failures are
// captured on the task, never returned; sibling tasks keep running.
func (e *Executor) runOne(ctx context.Context, task *BuildTask) {
	name := task.Asset.Name
	start := time.Now()
	finish := func(status TaskStatus) {
		task.Status = status
		task.Duration = time.Since(start)
		metrics.OrNop(e.Recorder).ObserveTask(name, task.Duration, status == TaskSucceeded)
	}

	select {
	case <-ctx.Done():
		task.Err = pkgerrors.BuildFailed(name, ctx.Err())
		finish(TaskFailed)
		return
	default:
	}

	task.Status = TaskRunning
	slog.Info("Building asset", logfields.Asset(name), logfields.Stage(string(task.Config.Stage)))

	buildDir := filepath.Join(e.BuildRoot, name)
	if err := os.MkdirAll(buildDir, 0o750); err != nil {
		task.Err = pkgerrors.BuildFailed(name, fmt.Errorf("create build dir: %w", err))
		finish(TaskFailed)
		return
	}

	runner := e.Runner
	if runner == nil {
		runner = execRunner
	}
	if err := runner(ctx, task.Asset.CommandFor(), buildDir, buildEnv(task)); err != nil {
		task.Err = pkgerrors.BuildFailed(name, err)
		finish(TaskFailed)
		slog.Error("Asset build failed", logfields.Asset(name), logfields.Error(err))
		return
	}

	if err := e.relocate(task, buildDir); err != nil {
		task.Err = err
		finish(TaskFailed)
		slog.Error("Artifact relocation failed", logfields.Asset(name), logfields.Error(err))
		return
	}

	finish(TaskSucceeded)
	slog.Info("Asset built",
		logfields.Asset(name),
		logfields.Path(task.ArtifactPath),
		logfields.DurationMS(float64(task.Duration.Milliseconds())))
}

// relocate moves the build step's outputs matching the asset's glob into the
// per-asset staging directory. A build that reported success but produced no
// matching file is an artifact error naming the asset.
func (e *Executor) relocate(task *BuildTask, buildDir string) error {
	name := task.Asset.Name
	matches, err := filepath.Glob(filepath.Join(buildDir, task.Asset.OutputGlobFor()))
	if err != nil {
		return pkgerrors.InternalError("bad output glob", err).WithContext("asset", name)
	}
	if len(matches) == 0 {
		return pkgerrors.ArtifactMissing(name)
	}
	sort.Strings(matches)

	stagingDir := filepath.Join(e.StagingRoot, name)
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return pkgerrors.InternalError("create staging dir", err).WithContext("asset", name)
	}
	for _, m := range matches {
		dest := filepath.Join(stagingDir, filepath.Base(m))
		if err := os.Rename(m, dest); err != nil {
			return pkgerrors.InternalError("relocate artifact", err).WithContext("asset", name)
		}
	}
	task.StagingDir = stagingDir
	task.ArtifactPath = filepath.Join(stagingDir, filepath.Base(matches[0]))
	return nil
}

// buildEnv materializes the environment for one build step on top of the
// process environment.
func buildEnv(task *BuildTask) []string {
	cfg := task.Config
	release := "no"
	if cfg.Stage.IsRelease() {
		release = "yes"
	}
	push := "no"
	if cfg.PushToRegistry {
		push = "yes"
	}
	env := append(os.Environ(),
		EnvAsset+"="+task.Asset.Name,
		EnvTarballName+"=kata-static-"+task.Asset.Name+".tar.xz",
		EnvRelease+"="+release,
		EnvPushToRegistry+"="+push,
		EnvArch+"="+cfg.Arch,
	)
	if cfg.CommitRef != "" {
		env = append(env, EnvCommitRef+"="+cfg.CommitRef)
	}
	if cfg.PushToRegistry {
		env = append(env,
			config.EnvRegistryUsername+"="+cfg.Registry.Username,
			config.EnvRegistryPassword+"="+cfg.Registry.Password,
		)
	}
	return env
}
