package pipeline

import (
	"archive/tar"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/executor"
	"github.com/kata-ci/staticbuild/internal/history"
	"github.com/kata-ci/staticbuild/internal/retry"
	"github.com/kata-ci/staticbuild/internal/store"
)

// writeArtifact fabricates one kata-static artifact tarball for an asset.
func writeArtifact(t *testing.T, dir, asset string) string {
	t.Helper()
	path := filepath.Join(dir, "kata-static-"+asset+".tar.xz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	xw, err := xz.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	content := asset + "-payload"
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:    "opt/kata/" + asset,
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: time.Unix(0, 0),
	}))
	_, err = tw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	return path
}

// fakeRunner fabricates terminal tasks without running any build step.
type fakeRunner struct {
	t    *testing.T
	dir  string
	fail map[string]bool

	seen []string
}

func (f *fakeRunner) ExecuteAll(ctx context.Context, assets []catalog.Asset, cfg *config.RunConfig) []*executor.BuildTask {
	tasks := make([]*executor.BuildTask, len(assets))
	for i, a := range assets {
		f.seen = append(f.seen, a.Name)
		task := &executor.BuildTask{Asset: a, Config: cfg, Duration: time.Millisecond}
		if f.fail[a.Name] {
			task.Status = executor.TaskFailed
			task.Err = pkgerrors.BuildFailed(a.Name, stderrors.New("exit status 2"))
		} else {
			task.Status = executor.TaskSucceeded
			task.ArtifactPath = writeArtifact(f.t, f.dir, a.Name)
		}
		tasks[i] = task
	}
	return tasks
}

func writeManifest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "versions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kernel: 6.7\nqemu: 8.2.1\n"), 0o600))
	return path
}

func newService(t *testing.T, cat *catalog.Catalog, runner TaskRunner) (*Service, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	return &Service{
		Catalog:      cat,
		Runner:       runner,
		Store:        mock,
		UploadPolicy: retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 1},
	}, mock
}

func TestRunFullSuccess(t *testing.T) {
	dir := t.TempDir()
	cat := catalog.Default()
	runner := &fakeRunner{t: t, dir: dir}
	svc, mock := newService(t, cat, runner)

	hist, err := history.NewStore(":memory:")
	require.NoError(t, err)
	defer hist.Close()
	svc.History = hist

	cfg := &config.RunConfig{Stage: config.StageTest, Arch: "x86_64"}
	out := filepath.Join(dir, "kata-static.tar.xz")
	res, err := svc.Run(context.Background(), Request{
		Config:       cfg,
		ManifestPath: writeManifest(t, dir),
		OutputPath:   out,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.Tarball)
	assert.Len(t, res.Tarball.ContainedAssets, 31)
	assert.Len(t, res.Outcomes, 31)
	assert.FileExists(t, out)

	// 31 per-asset blobs plus the merged tarball.
	names, err := mock.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 32)
	assert.Contains(t, names, "kata-artifacts-x86_64-qemu")
	assert.Contains(t, names, "kata-static-tarball-x86_64")

	run, err := hist.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "success", run.Status)
	tasks, err := hist.Tasks(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, tasks, 31)
}

func TestRunBuildFailureSkipsMerge(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t, dir: dir, fail: map[string]bool{"qemu": true}}
	svc, mock := newService(t, catalog.Default(), runner)

	cfg := &config.RunConfig{Stage: config.StageTest, Arch: "x86_64"}
	out := filepath.Join(dir, "kata-static.tar.xz")
	res, err := svc.Run(context.Background(), Request{
		Config:       cfg,
		ManifestPath: writeManifest(t, dir),
		OutputPath:   out,
	})
	require.Error(t, err)
	assert.Equal(t, StatusBuildFailed, res.Status)
	assert.True(t, pkgerrors.IsCategory(err, pkgerrors.CategoryBuild))
	pe, _ := pkgerrors.AsPipelineError(err)
	assert.Equal(t, "qemu", pe.Context["assets"])

	// Merge never ran and nothing was uploaded.
	assert.NoFileExists(t, out)
	assert.Empty(t, mock.PutCalls)

	// All 31 outcomes are reported, 30 of them successful.
	assert.Len(t, res.Outcomes, 31)
	succeeded := 0
	for _, o := range res.Outcomes {
		if o.Status == executor.TaskSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 30, succeeded)
}

func TestRunVanishedArtifactFailsAtBarrier(t *testing.T) {
	dir := t.TempDir()
	cat, err := catalog.New([]catalog.Asset{
		{Name: "kernel", Descriptor: catalog.BuildDescriptor{Command: []string{"true"}, OutputGlob: "kata-static-kernel*.tar.*"}},
	})
	require.NoError(t, err)

	runner := &runnerFunc{fn: func(ctx context.Context, assets []catalog.Asset, cfg *config.RunConfig) []*executor.BuildTask {
		path := writeArtifact(t, dir, "kernel")
		require.NoError(t, os.Remove(path))
		return []*executor.BuildTask{{
			Asset:        assets[0],
			Config:       cfg,
			Status:       executor.TaskSucceeded,
			ArtifactPath: path,
		}}
	}}
	svc, _ := newService(t, cat, runner)

	cfg := &config.RunConfig{Stage: config.StageTest, Arch: "x86_64"}
	res, err := svc.Run(context.Background(), Request{
		Config:       cfg,
		ManifestPath: writeManifest(t, dir),
		OutputPath:   filepath.Join(dir, "kata-static.tar.xz"),
	})
	require.Error(t, err)
	assert.Equal(t, StatusArtifactFailed, res.Status)
	assert.True(t, pkgerrors.IsCategory(err, pkgerrors.CategoryArtifact))
}

// runnerFunc adapts a function to TaskRunner.
type runnerFunc struct {
	fn func(ctx context.Context, assets []catalog.Asset, cfg *config.RunConfig) []*executor.BuildTask
}

func (r *runnerFunc) ExecuteAll(ctx context.Context, assets []catalog.Asset, cfg *config.RunConfig) []*executor.BuildTask {
	return r.fn(ctx, assets, cfg)
}

func TestRunStageExclusionScenario(t *testing.T) {
	dir := t.TempDir()
	desc := catalog.BuildDescriptor{Command: []string{"true"}, OutputGlob: "kata-static-" + catalog.AssetToken + "*.tar.*"}
	cat, err := catalog.New([]catalog.Asset{
		{Name: "asset-a", Descriptor: desc},
		{Name: "asset-b", ExcludedStages: []config.Stage{config.StageRelease}, Descriptor: desc},
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		stage config.Stage
		want  []string
	}{
		{config.StageRelease, []string{"asset-a"}},
		{config.StageTest, []string{"asset-a", "asset-b"}},
	} {
		runner := &fakeRunner{t: t, dir: t.TempDir()}
		svc, _ := newService(t, cat, runner)
		manifest := writeManifest(t, dir)
		_, err := svc.Run(context.Background(), Request{
			Config:       &config.RunConfig{Stage: tc.stage, Arch: "x86_64"},
			ManifestPath: manifest,
			OutputPath:   filepath.Join(t.TempDir(), "out.tar.xz"),
		})
		require.NoError(t, err, "stage %s", tc.stage)
		assert.Equal(t, tc.want, runner.seen, "stage %s", tc.stage)
	}
}

func TestRunBranchSyncFailureHappensBeforeFanOut(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t, dir: dir}
	svc, _ := newService(t, catalog.Default(), runner)
	svc.SyncBranch = func(repoPath, branch string) error {
		return pkgerrors.BranchSyncFailed(branch, stderrors.New("diverged"))
	}

	cfg := &config.RunConfig{Stage: config.StageTest, Arch: "x86_64", TargetBranch: "stable-3.4"}
	res, err := svc.Run(context.Background(), Request{
		Config:       cfg,
		RepoPath:     dir,
		ManifestPath: writeManifest(t, dir),
		OutputPath:   filepath.Join(dir, "out.tar.xz"),
	})
	require.Error(t, err)
	assert.Equal(t, StatusBuildFailed, res.Status)
	assert.Empty(t, runner.seen, "no task may start when the precondition fails")
}

func TestRunUploadFailureRetriesThenFails(t *testing.T) {
	dir := t.TempDir()
	desc := catalog.BuildDescriptor{Command: []string{"true"}, OutputGlob: "kata-static-*.tar.*"}
	cat, err := catalog.New([]catalog.Asset{{Name: "kernel", Descriptor: desc}})
	require.NoError(t, err)

	runner := &fakeRunner{t: t, dir: dir}
	svc, mock := newService(t, cat, runner)
	mock.PutErr = stderrors.New("upload refused")

	out := filepath.Join(dir, "out.tar.xz")
	res, err := svc.Run(context.Background(), Request{
		Config:       &config.RunConfig{Stage: config.StageTest, Arch: "x86_64"},
		ManifestPath: writeManifest(t, dir),
		OutputPath:   out,
	})
	require.Error(t, err)
	assert.Equal(t, StatusArtifactFailed, res.Status)
	// One initial attempt plus one retry for the first blob, and the merge
	// was never reached.
	assert.Equal(t, []string{"kata-artifacts-x86_64-kernel", "kata-artifacts-x86_64-kernel"}, mock.PutCalls)
	assert.NoFileExists(t, out)
}

func TestBlobNames(t *testing.T) {
	cfg := &config.RunConfig{Arch: "x86_64", TarballSuffix: "-nightly"}
	assert.Equal(t, "kata-artifacts-x86_64-qemu-nightly", ArtifactBlobName(cfg, "qemu"))
	assert.Equal(t, "kata-static-tarball-x86_64-nightly", TarballBlobName(cfg))
}
