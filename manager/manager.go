// Package manager pools per-connection resources built from a service's
// connection info, e.g. API clients bound to the discovered endpoint.
// The pool is backed by puddle, so resources are constructed lazily and
// recycled across callers.
package manager

import (
	"context"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/tetherhq/tether/models"
	"go.uber.org/zap"
)

// ConnInfoSource yields the connection info of a resolved service.
// *service.Handle satisfies this.
type ConnInfoSource interface {
	ConnInfo(ctx context.Context, timeout time.Duration) (models.ConnInfo, error)
}

// Factory builds one pooled resource from the service's connection info.
type Factory[T any] func(ctx context.Context, info models.ConnInfo) (T, error)

// Destructor releases one pooled resource.
type Destructor[T any] func(T)

type Manager[T any] struct {
	pool *puddle.Pool[T]
	log  *zap.Logger
}

type Params[T any] struct {
	// Source is the service whose connection info feeds the factory.
	Source ConnInfoSource

	// Factory builds a resource from the resolved connection info.
	Factory Factory[T]

	// Destructor releases a resource. Optional.
	Destructor Destructor[T]

	// MaxCapacity is the maximum number of live resources.
	MaxCapacity int

	// ConnInfoTimeout bounds the wait for the service to become ready
	// when constructing a resource. Zero waits indefinitely.
	ConnInfoTimeout time.Duration

	// Log is the logger to use for the manager
	Log *zap.Logger
}

func New[T any](params Params[T]) (*Manager[T], error) {
	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("manager")

	constructor := func(ctx context.Context) (T, error) {
		var zero T

		info, err := params.Source.ConnInfo(ctx, params.ConnInfoTimeout)
		if err != nil {
			log.Error("resolving connection info failed", zap.Error(err))
			return zero, err
		}

		return params.Factory(ctx, info)
	}

	destructor := func(res T) {
		if params.Destructor != nil {
			params.Destructor(res)
		}
	}

	pool, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: constructor,
		Destructor:  destructor,
		MaxSize:     int32(params.MaxCapacity),
	})
	if err != nil {
		return nil, err
	}

	return &Manager[T]{
		pool: pool,
		log:  log,
	}, nil
}

// Acquire returns a pooled resource, constructing one if the pool has
// spare capacity. The caller releases it via Release or Destroy on the
// returned puddle resource.
func (m *Manager[T]) Acquire(ctx context.Context) (*puddle.Resource[T], error) {
	return m.pool.Acquire(ctx)
}

// Shutdown destroys all idle resources and waits for acquired ones to
// be released.
func (m *Manager[T]) Shutdown() {
	m.pool.Close()
}
