// Package catalog holds the fixed registry of buildable assets and their
// build-step descriptors. The catalog is loaded once at process start and is
// immutable afterwards; adding or removing an asset is a deployment-time
// edit, never a runtime mutation.
package catalog

import (
	"fmt"
	"strings"

	"github.com/kata-ci/staticbuild/internal/config"
	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// AssetToken is substituted with the asset name in descriptor command
// templates and output globs.
const AssetToken = "{asset}"

// defaultBuildScript is the opaque per-asset build entry point. It receives
// the asset name and produces kata-static-<asset>*.tar.* on success.
const defaultBuildScript = "./tools/packaging/kata-deploy/local-build/kata-deploy-binaries-in-docker.sh"

// defaultOutputGlob is the fixed artifact naming convention every build step
// follows.
const defaultOutputGlob = "kata-static-" + AssetToken + "*.tar.*"

// BuildDescriptor describes how one asset is built: the command template to
// invoke and the glob its outputs match. An unknown asset name is therefore
// a configuration-time error, not a runtime surprise.
type BuildDescriptor struct {
	// Command is the argv template; AssetToken occurrences are replaced
	// with the asset name before execution.
	Command []string `yaml:"command"`

	// OutputGlob matches the artifact files the build step produces,
	// relative to the build output directory.
	OutputGlob string `yaml:"output_glob"`

	// ReleaseSuppressed marks assets whose artifact seeds a guest-side
	// component distributed inside other artifacts; in release stage the
	// standalone artifact is built but not retained as a deliverable.
	ReleaseSuppressed bool `yaml:"release_suppressed,omitempty"`
}

// Asset is one entry of the identity registry.
type Asset struct {
	Name           string          `yaml:"name"`
	ExcludedStages []config.Stage  `yaml:"excluded_stages,omitempty"`
	Descriptor     BuildDescriptor `yaml:"descriptor"`
}

// ExcludedIn reports whether the asset is excluded from the given stage.
func (a Asset) ExcludedIn(stage config.Stage) bool {
	for _, s := range a.ExcludedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// CommandFor expands the descriptor command template for this asset.
func (a Asset) CommandFor() []string {
	argv := make([]string, len(a.Descriptor.Command))
	for i, arg := range a.Descriptor.Command {
		argv[i] = strings.ReplaceAll(arg, AssetToken, a.Name)
	}
	return argv
}

// OutputGlobFor expands the descriptor output glob for this asset.
func (a Asset) OutputGlobFor() string {
	return strings.ReplaceAll(a.Descriptor.OutputGlob, AssetToken, a.Name)
}

// Catalog is an immutable, validated asset table.
type Catalog struct {
	assets []Asset
	byName map[string]int
}

// New validates the given asset table and wraps it in a Catalog.
func New(assets []Asset) (*Catalog, error) {
	byName := make(map[string]int, len(assets))
	for i, a := range assets {
		if a.Name == "" {
			return nil, pkgerrors.ConfigInvalid("catalog", "asset with empty name")
		}
		if _, dup := byName[a.Name]; dup {
			return nil, pkgerrors.ConfigInvalid("catalog", fmt.Sprintf("duplicate asset name %q", a.Name))
		}
		if len(a.Descriptor.Command) == 0 {
			return nil, pkgerrors.ConfigInvalid("catalog", fmt.Sprintf("asset %q has no build command", a.Name))
		}
		if a.Descriptor.OutputGlob == "" {
			return nil, pkgerrors.ConfigInvalid("catalog", fmt.Sprintf("asset %q has no output glob", a.Name))
		}
		for _, s := range a.ExcludedStages {
			if s != config.StageTest && s != config.StageRelease {
				return nil, pkgerrors.ConfigInvalid("catalog", fmt.Sprintf("asset %q excludes unknown stage %q", a.Name, s))
			}
		}
		byName[a.Name] = i
	}
	return &Catalog{assets: assets, byName: byName}, nil
}

// ListAssets returns every asset buildable in the given stage, in catalog
// declaration order. Order is irrelevant to correctness but kept
// deterministic for reproducible logs.
func (c *Catalog) ListAssets(stage config.Stage) []Asset {
	out := make([]Asset, 0, len(c.assets))
	for _, a := range c.assets {
		if !a.ExcludedIn(stage) {
			out = append(out, a)
		}
	}
	return out
}

// ExpectedNames returns the names of all retained deliverables for the given
// stage: buildable assets minus release-suppressed ones when releasing.
func (c *Catalog) ExpectedNames(stage config.Stage) []string {
	names := make([]string, 0, len(c.assets))
	for _, a := range c.ListAssets(stage) {
		if stage.IsRelease() && a.Descriptor.ReleaseSuppressed {
			continue
		}
		names = append(names, a.Name)
	}
	return names
}

// Lookup returns the asset with the given name.
func (c *Catalog) Lookup(name string) (Asset, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Asset{}, false
	}
	return c.assets[i], true
}

// Len returns the catalog size.
func (c *Catalog) Len() int { return len(c.assets) }

// defaultAsset builds a catalog entry with the standard build script and
// output glob.
func defaultAsset(name string, excluded ...config.Stage) Asset {
	return Asset{
		Name:           name,
		ExcludedStages: excluded,
		Descriptor: BuildDescriptor{
			Command:    []string{defaultBuildScript, "--build=" + AssetToken},
			OutputGlob: defaultOutputGlob,
		},
	}
}

// suppressedAsset is a defaultAsset whose standalone artifact is dropped in
// release stage (it is embedded in the rootfs/initrd images already).
func suppressedAsset(name string) Asset {
	a := defaultAsset(name)
	a.Descriptor.ReleaseSuppressed = true
	return a
}

// Default returns the built-in asset table.
func Default() *Catalog {
	c, err := New([]Asset{
		suppressedAsset("agent"),
		defaultAsset("agent-ctl"),
		defaultAsset("cloud-hypervisor"),
		defaultAsset("cloud-hypervisor-glibc", config.StageRelease),
		suppressedAsset("coco-guest-components"),
		defaultAsset("csi-kata-directvolume"),
		defaultAsset("firecracker"),
		defaultAsset("genpolicy"),
		defaultAsset("kata-ctl"),
		defaultAsset("kata-manager"),
		defaultAsset("kernel"),
		defaultAsset("kernel-confidential"),
		defaultAsset("kernel-dragonball-experimental"),
		defaultAsset("kernel-nvidia-gpu"),
		defaultAsset("kernel-nvidia-gpu-confidential"),
		defaultAsset("nydus"),
		defaultAsset("ovmf"),
		defaultAsset("ovmf-sev"),
		suppressedAsset("pause-image"),
		defaultAsset("qemu"),
		defaultAsset("qemu-snp-experimental"),
		defaultAsset("rootfs-image"),
		defaultAsset("rootfs-image-confidential"),
		defaultAsset("rootfs-initrd"),
		defaultAsset("rootfs-initrd-confidential"),
		defaultAsset("rootfs-initrd-mariner"),
		defaultAsset("runk"),
		defaultAsset("shim-v2"),
		defaultAsset("stratovirt"),
		defaultAsset("trace-forwarder"),
		defaultAsset("virtiofsd"),
	})
	if err != nil {
		// The built-in table is validated by tests; reaching this means a
		// programming error in the table itself.
		panic(err)
	}
	return c
}
