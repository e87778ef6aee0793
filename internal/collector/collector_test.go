package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/executor"
)

func succeededTask(t *testing.T, dir, name string, stage config.Stage) *executor.BuildTask {
	t.Helper()
	a, ok := catalog.Default().Lookup(name)
	require.True(t, ok, "asset %s not in catalog", name)
	path := filepath.Join(dir, "kata-static-"+name+".tar.xz")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))
	return &executor.BuildTask{
		Asset:        a,
		Config:       &config.RunConfig{Stage: stage},
		Status:       executor.TaskSucceeded,
		ArtifactPath: path,
	}
}

func TestRetentionPredicate(t *testing.T) {
	c := &Collector{Catalog: catalog.Default()}

	suppressed := []string{"agent", "coco-guest-components", "pause-image"}
	for _, name := range suppressed {
		assert.False(t, c.Retained(name, config.StageRelease), "%s must not retain in release", name)
		assert.True(t, c.Retained(name, config.StageTest), "%s must retain in test", name)
	}
	for _, name := range []string{"kernel", "qemu", "shim-v2", "virtiofsd"} {
		assert.True(t, c.Retained(name, config.StageRelease))
		assert.True(t, c.Retained(name, config.StageTest))
	}
}

func TestCollectSkipsFailedTasks(t *testing.T) {
	dir := t.TempDir()
	c := &Collector{Catalog: catalog.Default()}

	kernel := succeededTask(t, dir, "kernel", config.StageTest)
	qemu, _ := catalog.Default().Lookup("qemu")
	failed := &executor.BuildTask{
		Asset:  qemu,
		Config: &config.RunConfig{Stage: config.StageTest},
		Status: executor.TaskFailed,
	}

	records, err := c.Collect([]*executor.BuildTask{kernel, failed})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kernel", records[0].AssetName)
	assert.True(t, records[0].Retained)
}

func TestCollectIdempotent(t *testing.T) {
	dir := t.TempDir()
	c := &Collector{Catalog: catalog.Default()}
	tasks := []*executor.BuildTask{
		succeededTask(t, dir, "kernel", config.StageRelease),
		succeededTask(t, dir, "agent", config.StageRelease),
	}

	first, err := c.Collect(tasks)
	require.NoError(t, err)
	second, err := c.Collect(tasks)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCollectReleaseRetention(t *testing.T) {
	dir := t.TempDir()
	c := &Collector{Catalog: catalog.Default()}
	tasks := []*executor.BuildTask{
		succeededTask(t, dir, "agent", config.StageRelease),
		succeededTask(t, dir, "kernel", config.StageRelease),
	}

	records, err := c.Collect(tasks)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byName := map[string]ArtifactRecord{}
	for _, r := range records {
		byName[r.AssetName] = r
	}
	assert.False(t, byName["agent"].Retained)
	assert.True(t, byName["kernel"].Retained)
}

func TestCollectMissingRetainedFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	c := &Collector{Catalog: catalog.Default()}
	task := succeededTask(t, dir, "kernel", config.StageTest)
	require.NoError(t, os.Remove(task.ArtifactPath))

	_, err := c.Collect([]*executor.BuildTask{task})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCategory(err, pkgerrors.CategoryArtifact))
	pe, _ := pkgerrors.AsPipelineError(err)
	assert.Equal(t, "kernel", pe.Context["asset"])
}
