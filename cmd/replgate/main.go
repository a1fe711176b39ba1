package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/block/replgate/pkg/buildinfo"
	"github.com/block/replgate/pkg/gate"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=..."
var (
	version string
	commit  string
	date    string
)

type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Println(buildinfo.Get())
	return nil
}

var cli struct {
	Wait    gate.WaitCmd `cmd:"" help:"Block until replication lag on every gated target is within budget."`
	Version VersionCmd   `cmd:"" help:"Print build information."`
}

func main() {
	buildinfo.Set(version, commit, date)
	ctx := kong.Parse(&cli,
		kong.Name("replgate"),
		kong.Description("replgate: wait for replicated storage to catch up before writing"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
