package command

import (
	"github.com/urfave/cli/v3"
)

// GlobalFlags are accepted before any subcommand.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the YAML configuration file",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("RAKH_CONFIG"),
			),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn, error or fatal",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("RAKH_LOG_LEVEL"),
			),
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "text, json or compact",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("RAKH_LOG_FORMAT"),
			),
		},
		&cli.StringFlag{
			Name:  "backend-url",
			Usage: "base URL of the backend API",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("RAKH_BACKEND_URL"),
			),
		},
	}
}

func tenantFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "tenant",
		Aliases:  []string{"t"},
		Usage:    "tenant to act for",
		Required: true,
		Sources: cli.NewValueSourceChain(
			cli.EnvVar("RAKH_TENANT"),
		),
	}
}
