// Package supervisor owns a single spawned worker process: it creates
// the handshake pipe, launches the worker with the pipe's write end
// inherited, reads the handshake with a bounded timeout, monitors
// liveness, and executes graceful-then-forced shutdown.
//
// The worker side of the contract: after finishing its own
// initialisation, the worker writes one UTF-8 JSON object describing its
// reachable endpoint to the descriptor named by the TETHER_COMM_FD
// environment variable, then closes it. Failing to close the descriptor
// leaves the supervisor blocked until the handshake timeout.
package supervisor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/registry"
	"go.uber.org/zap"
)

// NotifyFunc receives the outcome of the handshake exactly once: either
// the decoded connection info, or the failure that ended the boot.
type NotifyFunc func(models.ConnInfo, error)

// ValidateFunc checks a decoded handshake payload. A non-nil error turns
// the handshake into a boot failure.
type ValidateFunc func(models.ConnInfo) error

// Config describes one supervised worker.
type Config struct {
	// Name identifies the service kind. It determines the registry
	// file name and must be unique per working-directory tree.
	Name string

	// Start is the worker command line.
	Start StartConfig

	// HandshakeTimeout bounds the wait for the worker's connection
	// info. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	// Zero means DefaultStopTimeout.
	StopTimeout time.Duration

	// Registry is where the worker's discovery file lives. A zero
	// registry uses the process working directory.
	Registry *registry.Registry

	// Validate optionally checks the handshake payload before it is
	// accepted.
	Validate ValidateFunc

	// Notify receives the handshake outcome. Called exactly once, from
	// the supervisor's run goroutine.
	Notify NotifyFunc

	// Log is the logger to use for the supervisor
	Log *zap.Logger
}

// Supervisor runs one worker process on a dedicated goroutine. The
// caller communicates with it solely through the one-shot Notify
// callback and the Shutdown signal.
type Supervisor struct {
	name string

	reg  *registry.Registry
	pipe *handshakePipe

	process *proc

	handshakeTimeout time.Duration
	stopTimeout      time.Duration

	validate ValidateFunc
	notify   NotifyFunc

	notifyOnce   sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	log *zap.Logger
}

// Spawn checks that no other instance of the service claims to be
// running, starts the worker process and begins supervising it on a
// background goroutine. The handshake outcome is delivered through
// config.Notify.
func Spawn(config Config) (*Supervisor, error) {
	log := config.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("supervisor").With(zap.String("service", config.Name))

	reg := config.Registry
	if reg == nil {
		reg = &registry.Registry{}
	}

	s := &Supervisor{
		name:             config.Name,
		reg:              reg,
		handshakeTimeout: config.HandshakeTimeout,
		stopTimeout:      config.StopTimeout,
		validate:         config.Validate,
		notify:           config.Notify,
		shutdown:         make(chan struct{}),
		done:             make(chan struct{}),
		log:              log,
	}

	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}

	if err := s.assertNotRunning(); err != nil {
		return nil, err
	}

	pipe, err := newHandshakePipe()
	if err != nil {
		return nil, err
	}
	s.pipe = pipe

	process, err := startProc(config.Start, pipe.writeFile(), log)
	if err != nil {
		pipe.sealWrite()
		pipe.Close()
		return nil, err
	}
	s.process = process

	// the parent must not hold the write end open, or EOF is never seen
	if err := pipe.sealWrite(); err != nil {
		log.Error("closing handshake write end failed", zap.Error(err))
	}

	go s.run()

	return s, nil
}

// Pid returns the worker's process id.
func (s *Supervisor) Pid() int {
	return s.process.pid
}

// Shutdown signals the run loop to stop, blocks until the supervised
// goroutine has fully finished and returns the worker's exit code.
func (s *Supervisor) Shutdown() int {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})

	<-s.done

	return s.process.exit.ExitCode()
}

// Done is closed once the run loop has terminated and all cleanup has
// been performed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) run() {
	defer close(s.done)
	defer s.pipe.Close()

	info, err := s.awaitHandshake()

	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		// the worker never reported; tear it down and give up
		s.log.Warn("handshake timed out, stopping worker")
		s.stopProcess()
		s.removeRegistryFile()
		s.deliver(nil, err)
		return

	case err != nil:
		// boot failure: report it, but keep supervising whatever may
		// still be running so a later shutdown can reap it
		s.log.Warn("worker boot failed", zap.Error(err))
		s.removeRegistryFile()
		s.deliver(nil, err)

	default:
		s.log.Info("worker ready", zap.Int("pid", s.process.pid))
		s.deliver(info, nil)
	}

	s.supervise()

	s.removeRegistryFile()
}

// awaitHandshake performs the bounded handshake read and decodes the
// payload. A timeout with an already-exited worker is a boot failure,
// not a timeout.
func (s *Supervisor) awaitHandshake() (models.ConnInfo, error) {
	payload, err := s.pipe.read(s.handshakeTimeout)
	if err != nil {
		if errors.Is(err, ErrHandshakeTimeout) {
			if s.process.exited() {
				return nil, fmt.Errorf("%w: worker exited during handshake", ErrBootFailure)
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading handshake: %v", ErrBootFailure, err)
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: worker closed the handshake pipe without data", ErrBootFailure)
	}

	var info models.ConnInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("%w: decoding handshake payload: %v", ErrBootFailure, err)
	}

	if s.validate != nil {
		if err := s.validate(info); err != nil {
			return nil, fmt.Errorf("%w: invalid handshake payload: %v", ErrBootFailure, err)
		}
	}

	return info, nil
}

// supervise blocks until the worker exits on its own, or shutdown is
// requested, in which case the worker is stopped gracefully.
func (s *Supervisor) supervise() {
	select {
	case <-s.process.termination:
		s.log.Info("worker exited", zap.Int("code", s.process.exit.ExitCode()))
	case <-s.shutdown:
		s.stopProcess()
	}
}

// stopProcess sends a graceful-terminate signal and waits up to the stop
// timeout, escalating to a forced kill if the worker has not exited.
func (s *Supervisor) stopProcess() {
	s.process.Terminate()

	if s.process.WaitFor(s.stopTimeout) {
		return
	}

	s.log.Warn("worker did not stop in time, killing",
		zap.Duration("timeout", s.stopTimeout))

	s.process.Kill()
	s.process.Wait()
}

// assertNotRunning fails fast when a registry file for this service is
// already present. The check is retried to absorb a benign race with a
// previous instance that is mid-cleanup. This is a best-effort safety
// net, not a lock: a file created between the check and the spawn is
// not detected.
func (s *Supervisor) assertNotRunning() error {
	for i := 0; i < registryRecheckAttempts; i++ {
		if !s.reg.Exists(s.name) {
			return nil
		}

		s.log.Warn("registry file present, retrying",
			zap.String("file", registry.FileName(s.name)),
			zap.Int("attempt", i+1))

		time.Sleep(registryRecheckDelay)
	}

	if s.reg.Exists(s.name) {
		return fmt.Errorf("%w: %s is present, indicating a running instance; "+
			"delete the file if you are certain there is none",
			ErrAlreadyRunning, registry.FileName(s.name))
	}

	return nil
}

func (s *Supervisor) deliver(info models.ConnInfo, err error) {
	if s.notify == nil {
		return
	}

	// the handshake resolves exactly once
	s.notifyOnce.Do(func() {
		s.notify(info, err)
	})
}

func (s *Supervisor) removeRegistryFile() {
	if err := s.reg.Delete(s.name); err != nil {
		s.log.Error("deleting registry file failed", zap.Error(err))
	}
}
