// Package config derives the immutable per-run configuration shared by every
// build task from the raw invocation parameters.
package config

import (
	"runtime"
)

// RawInputs are the unvalidated invocation parameters, straight from the CLI
// or the environment.
type RawInputs struct {
	Stage          string
	TarballSuffix  string
	PushToRegistry string
	CommitRef      string
	TargetBranch   string
	Arch           string

	// RepoPath is the source tree the pipeline operates on; CommitRef
	// defaults to its HEAD when unset.
	RepoPath string

	// HeadResolver resolves the current HEAD of RepoPath. Injected so the
	// parameterizer stays free of git plumbing; the pipeline wires it to
	// gitsync.Head.
	HeadResolver func(repoPath string) (string, error)
}

// RunConfig is created once per pipeline invocation and is immutable
// thereafter; every build task reads it concurrently.
type RunConfig struct {
	Stage          Stage
	TarballSuffix  string
	PushToRegistry bool
	CommitRef      string
	TargetBranch   string
	Arch           string
	Registry       RegistryAuth
}

// BuildRunConfig validates the raw inputs and produces the effective run
// configuration. All validation failures here are fatal before fan-out.
func BuildRunConfig(raw RawInputs) (*RunConfig, error) {
	stage, err := ParseStage(raw.Stage)
	if err != nil {
		return nil, err
	}

	push, err := ParseBoolToken("push-to-registry", raw.PushToRegistry)
	if err != nil {
		return nil, err
	}

	cfg := &RunConfig{
		Stage:          stage,
		TarballSuffix:  raw.TarballSuffix,
		PushToRegistry: push,
		CommitRef:      raw.CommitRef,
		TargetBranch:   raw.TargetBranch,
		Arch:           NormalizeArch(raw.Arch),
	}

	if push {
		auth, err := ResolveRegistryAuth()
		if err != nil {
			return nil, err
		}
		cfg.Registry = auth
	}

	if cfg.CommitRef == "" && raw.HeadResolver != nil {
		if head, err := raw.HeadResolver(raw.RepoPath); err == nil {
			cfg.CommitRef = head
		}
	}

	return cfg, nil
}

// NormalizeArch maps Go architecture names to the uname-style names used in
// artifact naming. Unknown values pass through unchanged so exotic targets
// stay expressible.
func NormalizeArch(arch string) string {
	if arch == "" {
		arch = runtime.GOARCH
	}
	switch arch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return arch
	}
}
