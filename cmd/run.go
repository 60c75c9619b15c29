package cmd

import (
	"github.com/tetherhq/tether/app"
	"github.com/tetherhq/tether/app/supervise"
	"github.com/urfave/cli/v2"
)

var (
	runCmdDescription = `The run command adopts an already-running service if one can
be discovered from the current directory, or starts and
supervises a new worker process otherwise.

The command blocks until it is interrupted or the worker
exits, then shuts the worker down gracefully and removes
the service's registry file.`
	runCmd = &cli.Command{
		Name:        "run",
		Usage:       "Connect to or start a supervised service and hold it.",
		Description: runCmdDescription,
		Action:      runAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "command",
				Usage:    "the command to invoke in order to start the worker process.",
				Aliases:  []string{"c"},
				Category: "service",
				EnvVars:  []string{"TETHER_SERVICE_COMMAND"},
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "arg",
				Usage:    "additional arguments to pass to the worker process.",
				Aliases:  []string{"a"},
				Category: "service",
				EnvVars:  []string{"TETHER_SERVICE_ARGS"},
			},
			&cli.StringFlag{
				Name:     "cwd",
				Usage:    "the working directory for the worker process.",
				Category: "service",
				EnvVars:  []string{"TETHER_SERVICE_CWD"},
			},
			&cli.StringFlag{
				Name:     "schema-file",
				Usage:    "JSON schema the worker's handshake payload must satisfy.",
				Category: "service",
				EnvVars:  []string{"TETHER_SCHEMA_FILE"},
			},
		},
	}
)

func runAction(ctx *cli.Context) error {
	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, supervise.Module())
}

func init() {
	rootApp.Commands = append(rootApp.Commands, runCmd)
}
