package commands

import (
	"fmt"
	"path/filepath"

	"github.com/kata-ci/staticbuild/internal/collector"
	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
	"github.com/kata-ci/staticbuild/internal/merger"
)

// MergeCmd implements the 'merge' command: assemble a final tarball from a
// staging directory of already-built artifacts, without running any builds.
// This is the recovery path when a run failed after the build phase.
type MergeCmd struct {
	Stage    string `short:"s" help:"Build stage (test|release)" default:"test"`
	Staging  string `help:"Directory holding per-asset artifacts" default:"./staging"`
	Manifest string `short:"m" help:"Version manifest path" default:"versions.yaml"`
	Output   string `short:"o" help:"Merged tarball path" default:"kata-static.tar.xz"`
}

func (m *MergeCmd) Run(_ *Global, root *CLI) error {
	stage, err := config.ParseStage(m.Stage)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(root)
	if err != nil {
		return err
	}

	coll := &collector.Collector{Catalog: cat}
	var records []collector.ArtifactRecord
	for _, asset := range cat.ListAssets(stage) {
		matches, err := filepath.Glob(filepath.Join(m.Staging, asset.Name, asset.OutputGlobFor()))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return pkgerrors.ArtifactMissing(asset.Name)
		}
		records = append(records, collector.ArtifactRecord{
			AssetName: asset.Name,
			Stage:     stage,
			Path:      matches[0],
			Retained:  coll.Retained(asset.Name, stage),
		})
	}

	manifest, err := merger.LoadManifest(m.Manifest)
	if err != nil {
		return err
	}
	merged, err := merger.Merge(records, manifest, cat.ExpectedNames(stage), m.Output)
	if err != nil {
		return err
	}

	fmt.Printf("Merged tarball: %s (%d assets)\n", merged.Path, len(merged.ContainedAssets))
	return nil
}
