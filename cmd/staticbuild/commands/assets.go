package commands

import (
	"fmt"

	"github.com/kata-ci/staticbuild/internal/collector"
	"github.com/kata-ci/staticbuild/internal/config"
)

// AssetsCmd implements the 'assets' command: show what the catalog selects
// for a stage and which artifacts ship in the final tarball.
type AssetsCmd struct {
	Stage string `short:"s" help:"Build stage (test|release)" default:"test"`
}

func (a *AssetsCmd) Run(_ *Global, root *CLI) error {
	stage, err := config.ParseStage(a.Stage)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(root)
	if err != nil {
		return err
	}

	coll := &collector.Collector{Catalog: cat}
	assets := cat.ListAssets(stage)
	fmt.Printf("Stage %s: %d assets\n", stage, len(assets))
	for _, asset := range assets {
		shipped := "shipped"
		if !coll.Retained(asset.Name, stage) {
			shipped = "built only"
		}
		fmt.Printf("  %-40s %s\n", asset.Name, shipped)
	}
	return nil
}
