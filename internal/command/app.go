// Package command wires the rakhcache CLI.
package command

import (
	"context"
	"sort"

	"github.com/urfave/cli/v3"
)

// InitApp builds the root command.
func InitApp(ctx context.Context) *cli.Command {
	app := &cli.Command{
		Name:  "rakhcache",
		Usage: "tenant-scoped caching gateway for the rakh backend",
		Flags: GlobalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			FetchCommand(),
			TokenCommand(),
			RevokeCommand(),
			FlushCommand(),
		},
	}

	for _, cmd := range app.Commands {
		sort.Slice(cmd.Flags, func(i, j int) bool {
			return cmd.Flags[i].Names()[0] < cmd.Flags[j].Names()[0]
		})
	}
	return app
}
