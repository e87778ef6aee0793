package config

import (
	"strings"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// Stage selects the build mode. It changes which assets are built and which
// artifacts are retained as standalone deliverables.
type Stage string

const (
	StageTest    Stage = "test"
	StageRelease Stage = "release"
)

// DefaultStage is used when no stage is supplied.
const DefaultStage = StageTest

// ParseStage validates a raw stage token. Empty input falls back to the
// default stage.
func ParseStage(raw string) (Stage, error) {
	switch Stage(strings.TrimSpace(strings.ToLower(raw))) {
	case "":
		return DefaultStage, nil
	case StageTest:
		return StageTest, nil
	case StageRelease:
		return StageRelease, nil
	default:
		return "", pkgerrors.ConfigInvalid("stage", "must be one of: test, release")
	}
}

// IsRelease reports whether the stage is the release stage.
func (s Stage) IsRelease() bool { return s == StageRelease }

// ParseBoolToken interprets the yes/no style tokens accepted for boolean
// options. Empty input means false.
func ParseBoolToken(field, raw string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "no", "false", "0":
		return false, nil
	case "yes", "true", "1":
		return true, nil
	default:
		return false, pkgerrors.ConfigInvalid(field, "must be a yes/no token")
	}
}
