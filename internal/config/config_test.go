package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

func TestParseStage(t *testing.T) {
	cases := []struct {
		raw     string
		want    Stage
		wantErr bool
	}{
		{"", StageTest, false},
		{"test", StageTest, false},
		{"release", StageRelease, false},
		{" Release ", StageRelease, false},
		{"prod", "", true},
		{"staging", "", true},
	}
	for _, c := range cases {
		got, err := ParseStage(c.raw)
		if c.wantErr {
			require.Error(t, err, "raw=%q", c.raw)
			assert.True(t, pkgerrors.IsCategory(err, pkgerrors.CategoryConfig))
			continue
		}
		require.NoError(t, err, "raw=%q", c.raw)
		assert.Equal(t, c.want, got)
	}
}

func TestParseBoolToken(t *testing.T) {
	for _, truthy := range []string{"yes", "true", "1", "YES"} {
		got, err := ParseBoolToken("f", truthy)
		require.NoError(t, err)
		assert.True(t, got)
	}
	for _, falsy := range []string{"", "no", "false", "0"} {
		got, err := ParseBoolToken("f", falsy)
		require.NoError(t, err)
		assert.False(t, got)
	}
	_, err := ParseBoolToken("f", "maybe")
	require.Error(t, err)
}

func TestBuildRunConfigDefaults(t *testing.T) {
	cfg, err := BuildRunConfig(RawInputs{})
	require.NoError(t, err)
	assert.Equal(t, StageTest, cfg.Stage)
	assert.Empty(t, cfg.TarballSuffix)
	assert.Empty(t, cfg.TargetBranch)
	assert.False(t, cfg.PushToRegistry)
	assert.NotEmpty(t, cfg.Arch)
}

func TestBuildRunConfigPushRequiresCredentials(t *testing.T) {
	t.Setenv(EnvRegistryUsername, "")
	t.Setenv(EnvRegistryPassword, "")
	_, err := BuildRunConfig(RawInputs{PushToRegistry: "yes"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCategory(err, pkgerrors.CategoryAuth))

	t.Setenv(EnvRegistryUsername, "robot")
	t.Setenv(EnvRegistryPassword, "hunter2")
	cfg, err := BuildRunConfig(RawInputs{PushToRegistry: "yes"})
	require.NoError(t, err)
	assert.Equal(t, RegistryAuth{Username: "robot", Password: "hunter2"}, cfg.Registry)
}

func TestBuildRunConfigHeadResolver(t *testing.T) {
	cfg, err := BuildRunConfig(RawInputs{
		RepoPath:     "/src/tree",
		HeadResolver: func(p string) (string, error) { return "abc1234", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "abc1234", cfg.CommitRef)

	// Explicit ref wins over the resolver.
	cfg, err = BuildRunConfig(RawInputs{
		CommitRef:    "fixedref",
		HeadResolver: func(p string) (string, error) { return "abc1234", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "fixedref", cfg.CommitRef)
}

func TestNormalizeArch(t *testing.T) {
	assert.Equal(t, "x86_64", NormalizeArch("amd64"))
	assert.Equal(t, "aarch64", NormalizeArch("arm64"))
	assert.Equal(t, "s390x", NormalizeArch("s390x"))
	assert.NotEmpty(t, NormalizeArch(""))
}
