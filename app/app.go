package app

import (
	"github.com/tetherhq/tether/config"
	"github.com/tetherhq/tether/internal/shell"
	"github.com/tetherhq/tether/util/conf"
	"github.com/tetherhq/tether/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
		// provide service config
		fx.Supply(config.Service),
	)

	return shell.New(log, sharedModule), nil
}
