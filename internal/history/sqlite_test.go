package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RunStarted(ctx, "run-1", "release", "x86_64"))
	r, err := s.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", r.Status)
	assert.Equal(t, "release", r.Stage)

	require.NoError(t, s.RunFinished(ctx, "run-1", "success", 90*time.Second))
	r, err = s.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "success", r.Status)
	assert.Equal(t, int64(90000), r.DurationMS)
	assert.False(t, r.FinishedAt.IsZero())
}

func TestTaskRecordingIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.RunStarted(ctx, "run-1", "test", "x86_64"))

	require.NoError(t, s.TaskFinished(ctx, "run-1", "qemu", "failed", "exit status 2", 3*time.Second))
	require.NoError(t, s.TaskFinished(ctx, "run-1", "qemu", "failed", "exit status 2", 3*time.Second))
	require.NoError(t, s.TaskFinished(ctx, "run-1", "kernel", "succeeded", "", 8*time.Second))

	tasks, err := s.Tasks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "kernel", tasks[0].Asset)
	assert.Equal(t, "succeeded", tasks[0].Status)
	assert.Equal(t, "qemu", tasks[1].Asset)
	assert.Equal(t, "exit status 2", tasks[1].Error)
}

func TestRecentRunsOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.RunStarted(ctx, "run-a", "test", "x86_64"))
	require.NoError(t, s.RunStarted(ctx, "run-b", "test", "x86_64"))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Same started_at second is possible; ties break on id descending.
	assert.Equal(t, "run-b", runs[0].ID)
}
