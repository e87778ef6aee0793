// Package collector turns terminal build tasks into artifact records,
// applying the stage-aware retention rules. Collection is pure and
// idempotent: the same task set always yields the same record set.
package collector

import (
	"os"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/executor"
)

// ArtifactRecord is the collected view of one succeeded build task.
type ArtifactRecord struct {
	AssetName string
	Stage     config.Stage
	Path      string
	Retained  bool
}

// Collector derives artifact records from build tasks using the catalog's
// retention flags.
type Collector struct {
	Catalog *catalog.Catalog
}

// Retained is the retention predicate: in release stage, assets that seed a
// guest-side component distributed inside other artifacts (agent,
// guest-components bundle, pause image) are not standalone deliverables.
// Everything else retains.
func (c *Collector) Retained(assetName string, stage config.Stage) bool {
	if !stage.IsRelease() {
		return true
	}
	a, ok := c.Catalog.Lookup(assetName)
	if !ok {
		return true
	}
	return !a.Descriptor.ReleaseSuppressed
}

// Collect produces one record per succeeded task. Failed tasks contribute
// nothing; their absence surfaces as a hard error at merge time if the asset
// was required. A retained record whose artifact file has vanished is fatal
// here, named by asset.
func (c *Collector) Collect(tasks []*executor.BuildTask) ([]ArtifactRecord, error) {
	records := make([]ArtifactRecord, 0, len(tasks))
	for _, task := range tasks {
		if task.Status != executor.TaskSucceeded {
			continue
		}
		rec := ArtifactRecord{
			AssetName: task.Asset.Name,
			Stage:     task.Config.Stage,
			Path:      task.ArtifactPath,
			Retained:  c.Retained(task.Asset.Name, task.Config.Stage),
		}
		if rec.Retained {
			if _, err := os.Stat(rec.Path); err != nil {
				return nil, pkgerrors.ArtifactMissing(task.Asset.Name)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
