package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tetherhq/tether/config"
	"github.com/tetherhq/tether/service"
	"github.com/tetherhq/tether/util/conf"
	"github.com/tetherhq/tether/util/logging"
	"github.com/urfave/cli/v2"
)

var (
	statusCmdDescription = `The status command searches for a registry file of the named
service, starting from the search root and walking upward
through parent directories, and prints the discovered
connection info as JSON.`
	statusCmd = &cli.Command{
		Name:        "status",
		Usage:       "Discover a running service and print its connection info.",
		Description: statusCmdDescription,
		Action:      statusAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "search-root",
				Usage:    "the directory to start the registry search from.",
				Category: "service",
				EnvVars:  []string{"TETHER_SEARCH_ROOT"},
			},
			&cli.IntFlag{
				Name:     "discovery-timeout",
				Usage:    "seconds to keep searching for the registry file.",
				Value:    0,
				Category: "service",
				EnvVars:  []string{"TETHER_DISCOVERY_TIMEOUT"},
			},
		},
	}
)

func statusAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return err
	}

	handle, err := service.Connect(ctx.Context, cfg.Service.Name, service.ConnectConfig{
		SearchRoot: ctx.String("search-root"),
		Timeout:    time.Duration(ctx.Int("discovery-timeout")) * time.Second,
		Log:        log,
	})
	if errors.Is(err, service.ErrDiscoveryTimeout) {
		return cli.Exit(fmt.Sprintf("no running %s service found", cfg.Service.Name), 1)
	}
	if err != nil {
		return err
	}

	info, err := handle.ConnInfo(ctx.Context, 0)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, string(out))

	return nil
}

func init() {
	rootApp.Commands = append(rootApp.Commands, statusCmd)
}
