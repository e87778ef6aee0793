package executor

import (
	"time"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
)

// TaskStatus represents the lifecycle state of one build task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// BuildTask is one unit of work: building a single asset under a run
// configuration. A task is mutated only by its own execution and is terminal
// once succeeded or failed.
type BuildTask struct {
	Asset  catalog.Asset
	Config *config.RunConfig
	Status TaskStatus

	// ArtifactPath is the primary relocated artifact file; empty unless the
	// task succeeded. StagingDir holds every relocated output for the asset.
	ArtifactPath string
	StagingDir   string

	Err      error
	Duration time.Duration
}
