package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetherhq/tether/internal/healthserver"
	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/util/logging"
	"github.com/tetherhq/tether/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	workerCmdDescription = `The worker command runs the built-in diagnostic worker: a
small http server on an ephemeral port that reports its
endpoint over the tether handshake and exits cleanly on
SIGTERM.

Use it to smoke-test a deployment:

    tether run --name debug --command tether --arg worker`
	workerCmd = &cli.Command{
		Name:        "worker",
		Usage:       "Run the built-in diagnostic worker.",
		Description: workerCmdDescription,
		Action:      workerAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Aliases:  []string{"H"},
				Usage:    "The host to listen on.",
				Value:    "localhost",
				Category: "http",
				EnvVars:  []string{"HTTP_HOST"},
			},
			&cli.IntFlag{
				Name:     "port",
				Aliases:  []string{"P"},
				Usage:    "The port to listen on. Zero picks an ephemeral port.",
				Value:    0,
				Category: "http",
				EnvVars:  []string{"HTTP_PORT"},
			},
			&cli.BoolFlag{
				Name:     "h2c",
				Usage:    "Enable HTTP/2 cleartext upgrade.",
				Value:    false,
				Category: "http",
				EnvVars:  []string{"HTTP_H2C"},
			},
		},
	}
)

func workerAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	server := healthserver.New(healthserver.Config{
		Host: ctx.String("host"),
		Port: ctx.Int("port"),
		H2c:  ctx.Bool("h2c"),
	}, log)

	host, port, err := server.Listen(ctx.Context)
	if err != nil {
		return err
	}

	go server.Serve()

	info := models.ConnInfo{
		"host": host,
		"port": port,
		"pid":  os.Getpid(),
	}

	// report readiness to the supervisor, if there is one
	if worker.Supervised() {
		if err := worker.Publish(info); err != nil {
			return err
		}
	} else {
		log.Info("running unsupervised", zap.Any("info", info))
	}

	// serve until interrupted
	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-signalCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

func init() {
	rootApp.Commands = append(rootApp.Commands, workerCmd)
}
