package main

import (
	"github.com/alecthomas/kong"

	"github.com/kata-ci/staticbuild/cmd/staticbuild/commands"
	"github.com/kata-ci/staticbuild/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("staticbuild"),
		kong.Description("Build, collect and merge kata-containers static assets."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	err := ctx.Run(&commands.Global{}, &cli)
	ctx.FatalIfErrorf(err)
}
