// Package supervise wires a supervised service into an fx application:
// connect-or-start on startup, graceful shutdown on stop, and an early
// application exit when the worker dies on its own.
package supervise

import (
	"context"
	"os"
	"time"

	"github.com/tetherhq/tether/config"
	"github.com/tetherhq/tether/service"
	"github.com/tetherhq/tether/supervisor"
	"github.com/tetherhq/tether/util/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module(
		"supervise",
		// rename logger for module
		logging.DecorateLogger("supervise"),
		// provide the runner
		fx.Provide(NewLifecycleRunner),
		// invoke the runner
		fx.Invoke(func(*Runner) {}),
	)
}

type Params struct {
	fx.In

	Config     config.ServiceConfig
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Log        *zap.Logger
}

// Runner holds one supervised service for the lifetime of the fx app.
type Runner struct {
	config     config.ServiceConfig
	handle     *service.Handle
	shutdowner fx.Shutdowner
	log        *zap.Logger
}

// NewLifecycleRunner builds the runner and ties it to the fx lifecycle.
func NewLifecycleRunner(params Params) *Runner {
	r := &Runner{
		config:     params.Config,
		shutdowner: params.Shutdowner,
		log:        params.Log,
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: r.start,
		OnStop:  r.stop,
	})

	return r
}

// Handle returns the service handle. Only valid once the fx app has
// started.
func (r *Runner) Handle() *service.Handle {
	return r.handle
}

func (r *Runner) start(ctx context.Context) error {
	cfg := r.config

	var schema string
	if cfg.SchemaFile != "" {
		data, err := os.ReadFile(cfg.SchemaFile)
		if err != nil {
			return err
		}
		schema = string(data)
	}

	handle, err := service.ConnectOrStart(ctx, service.Config{
		Name: cfg.Name,
		Start: supervisor.StartConfig{
			Cmd:  cfg.Command,
			Args: cfg.Args,
			Cwd:  cfg.Cwd,
		},
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
		StopTimeout:      time.Duration(cfg.StopTimeout) * time.Second,
		PayloadSchema:    schema,
		Log:              r.log,
	})
	if err != nil {
		return err
	}

	info, err := handle.ConnInfo(ctx, 0)
	if err != nil {
		handle.Shutdown()
		return err
	}

	r.handle = handle

	r.log.Info("service ready",
		zap.String("service", cfg.Name),
		zap.Bool("owned", handle.Owned()),
		zap.Any("info", info),
	)

	// if the worker dies on its own, stop the application; during a
	// regular stop the shutdowner call is a no-op
	if done := handle.Done(); done != nil {
		go func() {
			<-done
			r.log.Warn("worker exited, shutting down")
			r.shutdowner.Shutdown()
		}()
	}

	return nil
}

func (r *Runner) stop(context.Context) error {
	if r.handle == nil {
		return nil
	}

	code := r.handle.Shutdown()
	r.log.Info("service stopped", zap.Int("exit_code", code))

	return nil
}
