package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tetherhq/tether/config"
	"github.com/tetherhq/tether/internal/shell"
	"github.com/tetherhq/tether/util/conf"
	"github.com/tetherhq/tether/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	appName  = "tether"
	appUsage = `Supervise single-instance local services: spawn a worker,
wait for its readiness handshake, publish its endpoint for
other processes to discover, and shut it down in order.`
	rootApp = &cli.App{
		Name:            appName,
		Usage:           appUsage,
		HideHelpCommand: true,
		Args:            true,
		Flags: []cli.Flag{
			// general flags
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level. Options: debug, info, warn, error, panic, fatal.",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				EnvVars: []string{"LOG_FORMAT"},
			},
			// service flags
			&cli.StringFlag{
				Name:     "name",
				Usage:    "the service identity, determines the registry file name.",
				Aliases:  []string{"n"},
				Value:    "tether",
				Category: "service",
				EnvVars:  []string{"TETHER_SERVICE_NAME"},
			},
			&cli.IntFlag{
				Name:     "handshake-timeout",
				Usage:    "seconds to wait for the worker's readiness handshake.",
				Value:    20,
				Category: "service",
				EnvVars:  []string{"TETHER_HANDSHAKE_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:     "stop-timeout",
				Usage:    "seconds between graceful and forced worker termination.",
				Value:    10,
				Category: "service",
				EnvVars:  []string{"TETHER_STOP_TIMEOUT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			// create the logger
			log, err := createLogger(ctx)
			if err != nil {
				return err
			}

			// inject logger into cli context
			ctx.Context = logging.ContextWithLogger(ctx.Context, log)

			// parse config using defaults, env and cli flags
			cfg, err := conf.Parse[config.Config](conf.ParseOptions{
				Cli:      ctx,
				CliMap:   cliConfigMap,
				Defaults: config.DefaultConfig,
				Log:      log,
			})
			if err != nil {
				return err
			}

			// inject the config into the cli context
			ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

			return nil
		},
		After: func(ctx *cli.Context) error {
			log, err := logging.LoggerFromContext(ctx.Context)
			if err != nil {
				return err
			}

			log.Sync()

			return nil
		},
	}

	// cliConfigMap maps cli flag names to config keys
	cliConfigMap = map[string]string{
		"name":              "service.name",
		"command":           "service.command",
		"arg":               "service.args",
		"cwd":               "service.cwd",
		"handshake-timeout": "service.handshake_timeout",
		"stop-timeout":      "service.stop_timeout",
		"discovery-timeout": "service.discovery_timeout",
		"schema-file":       "service.schema_file",
	}
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version",
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

type ExecuteParams struct {
	Version  string
	Compiled time.Time
}

func Execute(params ExecuteParams) {
	rootApp.Version = params.Version
	rootApp.Compiled = params.Compiled

	run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) {
	err := rootApp.RunContext(ctx, args)

	// if app exited without error, return
	if err == nil {
		return
	}

	// propagate the worker's exit code
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode)
	}

	fmt.Printf("exit error: %s\n", err.Error())

	os.Exit(1)
}

func createLogger(ctx *cli.Context) (*zap.Logger, error) {
	level := getLogLevelFromCLI(ctx)
	format := getLogFormatFromCLI(ctx)

	var config zap.Config
	if format == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	config.InitialFields = map[string]any{
		"app": "tether",
	}

	config.Level = level

	return config.Build()
}

func getLogFormatFromCLI(ctx *cli.Context) string {
	format := ctx.String("log-format")
	if format != "" {
		return format
	}

	return "production"
}

func getLogLevelFromCLI(ctx *cli.Context) zap.AtomicLevel {
	lvl := ctx.String("log-level")

	if atom, err := zap.ParseAtomicLevel(lvl); err == nil {
		return atom
	}

	return zap.NewAtomicLevelAt(zap.InfoLevel)
}
