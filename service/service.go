// Package service is the public facade of tether: a per-process
// singleton handle per service kind that either spawns a supervised
// worker or adopts connection info discovered through the registry, and
// exposes blocking wait-until-ready and fetch-connection-info
// operations.
//
// Typical owner side:
//
//	handle, err := service.Start(service.Config{
//		Name:  "storage",
//		Start: supervisor.StartConfig{Cmd: "storage-server"},
//	})
//	if err != nil {
//		return err
//	}
//	defer handle.Close()
//
//	info, err := handle.ConnInfo(ctx, 0)
//
// Typical client side, from anywhere below the owner's directory:
//
//	handle, err := service.Connect(ctx, "storage", service.ConnectConfig{
//		Timeout: 20 * time.Second,
//	})
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/registry"
	"github.com/tetherhq/tether/supervisor"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned by Start when an instance of the
	// service already exists, either in this process or as a registry
	// file on disk.
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning

	// ErrDiscoveryTimeout is returned by Connect when no registry file
	// was found within the search window. It says nothing about the
	// worker, only about discovery.
	ErrDiscoveryTimeout = errors.New("service discovery timed out")

	// ErrConnInfoAlreadySet guards the one-shot connection info slot.
	ErrConnInfoAlreadySet = errors.New("connection info already set")

	// ErrNotReady is returned by ConnInfo when the readiness wait timed
	// out before the handshake resolved.
	ErrNotReady = errors.New("service not ready")
)

// NoProcessExitCode is returned by Shutdown when this handle never owned
// a worker process.
const NoProcessExitCode = -1

// Config describes a service to start.
type Config struct {
	// Name identifies the service kind, e.g. "storage". It determines
	// the registry file name and must be unique per working-directory
	// tree.
	Name string

	// Start is the worker command line.
	Start supervisor.StartConfig

	// HandshakeTimeout bounds the wait for the worker's connection
	// info. Zero means supervisor.DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// StopTimeout is the grace period between graceful and forced
	// worker termination.
	StopTimeout time.Duration

	// Registry is where the service's discovery file lives. A nil
	// registry uses the process working directory.
	Registry *registry.Registry

	// ConnInfo, when set, is adopted as-is: no worker is spawned and
	// the handle is immediately ready.
	ConnInfo models.ConnInfo

	// PayloadSchema is an optional JSON schema the handshake payload
	// must satisfy. Violations are boot failures.
	PayloadSchema string

	// Log is the logger to use for the service
	Log *zap.Logger
}

// ConnectConfig describes how to discover a running service.
type ConnectConfig struct {
	// SearchRoot is the directory the upward registry search starts
	// from. Empty means the process working directory.
	SearchRoot string

	// Timeout bounds the discovery wait. Zero performs exactly one
	// non-blocking probe.
	Timeout time.Duration

	// Log is the logger to use for the adopted handle
	Log *zap.Logger
}

// Handle is the per-process view of one service instance. Handles built
// by Start own the worker process; handles built by Connect are adopted
// and never mutate the registry.
type Handle struct {
	name string

	proc *supervisor.Supervisor
	reg  *registry.Registry

	mu      sync.Mutex
	info    models.ConnInfo
	infoErr error
	infoSet bool

	// ready is closed after the connection info slot has been set
	ready chan struct{}

	log *zap.Logger
}

// Start spawns a supervised worker for the service and registers the
// resulting handle as the per-process singleton for the service name.
// It fails with ErrAlreadyRunning when a singleton already exists or a
// registry file indicates another live instance.
//
// Callers own the returned handle and release it via Close or Shutdown.
func Start(config Config) (*Handle, error) {
	log := config.Log
	if log == nil {
		log = zap.NewNop()
	}

	reg := config.Registry
	if reg == nil {
		reg = &registry.Registry{}
	}

	h := &Handle{
		name:  config.Name,
		reg:   reg,
		ready: make(chan struct{}),
		log:   log.Named("service").With(zap.String("service", config.Name)),
	}

	if err := registerInstance(h); err != nil {
		return nil, err
	}

	if config.ConnInfo != nil {
		// adoption path: no worker to spawn, immediately resolved
		h.adoptInfo(config.ConnInfo)
		return h, nil
	}

	var validate supervisor.ValidateFunc
	if config.PayloadSchema != "" {
		v, err := NewPayloadValidator(config.PayloadSchema)
		if err != nil {
			removeInstance(config.Name, h)
			return nil, err
		}
		validate = v
	}

	proc, err := supervisor.Spawn(supervisor.Config{
		Name:             config.Name,
		Start:            config.Start,
		HandshakeTimeout: config.HandshakeTimeout,
		StopTimeout:      config.StopTimeout,
		Registry:         reg,
		Validate:         validate,
		Notify:           h.notify,
		Log:              log,
	})
	if err != nil {
		removeInstance(config.Name, h)
		return nil, err
	}

	h.proc = proc

	return h, nil
}

// Connect returns a handle on an already-running service. If a
// singleton exists in this process, Connect waits for it to become
// ready and returns it. Otherwise the registry is polled, searching
// upward from the search root, until a registry file appears or the
// timeout elapses, and an adopted (non-owning) handle is built from the
// discovered info.
func Connect(ctx context.Context, name string, config ConnectConfig) (*Handle, error) {
	if h := lookupInstance(name); h != nil {
		h.WaitUntilReady(ctx, 0)
		return h, nil
	}

	log := config.Log
	if log == nil {
		log = zap.NewNop()
	}

	reg := &registry.Registry{}

	info, err := reg.Wait(ctx, name, config.SearchRoot, config.Timeout)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrDiscoveryTimeout
		}
		return nil, err
	}

	h := &Handle{
		name:  name,
		reg:   reg,
		ready: make(chan struct{}),
		log:   log.Named("service").With(zap.String("service", name)),
	}
	h.adoptInfo(info)

	return h, nil
}

// ConnectOrStart probes for a running service without blocking and
// falls back to starting one. This gives "use the existing service if
// present, otherwise become the owner" semantics across independent
// tool invocations.
func ConnectOrStart(ctx context.Context, config Config) (*Handle, error) {
	var searchRoot string
	if config.Registry != nil {
		searchRoot = config.Registry.Dir
	}

	h, err := Connect(ctx, config.Name, ConnectConfig{
		SearchRoot: searchRoot,
		Timeout:    0,
		Log:        config.Log,
	})
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrDiscoveryTimeout) {
		return nil, err
	}

	return Start(config)
}

// WaitUntilReady blocks until the handshake has resolved, the timeout
// elapsed, or the context was cancelled. A timeout of zero or less
// waits indefinitely. It reports whether the service resolved to usable
// connection info.
func (h *Handle) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-h.ready:
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.infoErr == nil && h.info != nil
}

// ConnInfo waits for the handshake to resolve, then returns the
// connection info, or the captured failure that ended the boot. This is
// the single call clients use to get a usable endpoint or learn why
// they can't.
func (h *Handle) ConnInfo(ctx context.Context, timeout time.Duration) (models.ConnInfo, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-h.ready:
	case <-expired:
		return nil, ErrNotReady
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.infoErr != nil {
		return nil, h.infoErr
	}

	return h.info, nil
}

// Name returns the service identity.
func (h *Handle) Name() string {
	return h.name
}

// Done returns a channel that is closed once the owned worker has
// terminated and its cleanup has run. For adopted handles the returned
// channel never fires.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.proc == nil {
		return nil
	}

	return h.proc.Done()
}

// Owned reports whether this handle owns a spawned worker process.
func (h *Handle) Owned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.proc != nil
}

// SetConnInfo resolves the connection info slot. It is called exactly
// once, by the owning supervisor. For a successful handshake the info
// is persisted to the registry before the in-memory readiness is
// raised, so any process that discovers the registry file observes a
// handle that is already consistent.
func (h *Handle) SetConnInfo(info models.ConnInfo, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.infoSet {
		return ErrConnInfoAlreadySet
	}
	if info == nil && cause == nil {
		return errors.New("neither connection info nor failure given")
	}

	h.infoSet = true

	switch {
	case cause != nil:
		h.infoErr = cause
	default:
		if err := h.reg.Write(h.name, info); err != nil {
			h.infoErr = err
		} else {
			h.info = info
		}
	}

	close(h.ready)

	return nil
}

// Shutdown stops the supervised worker, clears the per-process
// singleton and returns the worker's exit code. Handles that never
// owned a process return NoProcessExitCode and touch nothing.
func (h *Handle) Shutdown() int {
	h.mu.Lock()
	proc := h.proc
	h.proc = nil
	h.mu.Unlock()

	removeInstance(h.name, h)

	if proc == nil {
		return NoProcessExitCode
	}

	return proc.Shutdown()
}

// Close releases the handle, shutting down the worker if this handle
// owns one. It implements io.Closer for scoped (defer) lifetimes.
func (h *Handle) Close() error {
	h.Shutdown()
	return nil
}

// notify adapts SetConnInfo to the supervisor's callback signature. A
// double set is a programming-contract breach, not a runtime condition.
func (h *Handle) notify(info models.ConnInfo, cause error) {
	if err := h.SetConnInfo(info, cause); err != nil {
		h.log.Error("setting connection info failed", zap.Error(err))
	}
}

// adoptInfo resolves the handle from pre-existing connection info,
// without touching the registry.
func (h *Handle) adoptInfo(info models.ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.infoSet = true
	h.info = info

	close(h.ready)
}
