package supervisor

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Spawn when a registry file for the
	// service is already present, indicating another live instance.
	ErrAlreadyRunning = errors.New("service already running")

	// ErrHandshakeTimeout is returned when the worker did not report its
	// connection info within the handshake timeout.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrBootFailure is returned when the worker exited during the
	// handshake, closed the pipe without data, or sent a payload that
	// could not be decoded or validated.
	ErrBootFailure = errors.New("worker boot failure")
)

const (
	// CommFdEnv is the environment variable through which the supervisor
	// tells the worker which file descriptor to write its connection
	// info to.
	CommFdEnv = "TETHER_COMM_FD"

	// commChildFd is the descriptor number of the handshake pipe in the
	// child process. The first ExtraFiles entry always maps to fd 3.
	commChildFd = 3
)

const (
	// DefaultHandshakeTimeout is the default time the supervisor waits
	// for the worker to report its connection info.
	DefaultHandshakeTimeout = 20 * time.Second

	// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL
	// during shutdown.
	DefaultStopTimeout = 10 * time.Second

	// registryRecheckDelay is the pause between pre-spawn registry file
	// checks, absorbing a previous instance that is mid-cleanup.
	registryRecheckDelay = time.Second

	// registryRecheckAttempts is the number of pre-spawn registry file
	// checks before giving up with ErrAlreadyRunning.
	registryRecheckAttempts = 3
)

// StartConfig describes the worker command line.
type StartConfig struct {
	// Cmd is the path or name of the binary to execute
	Cmd string `conf:"cmd"`

	// Args is the list of arguments to pass to the command
	Args []string `conf:"args"`

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string `conf:"cwd"`

	// Env is a map of additional environment variables to set when
	// running the command. The worker inherits the supervisor's
	// environment either way.
	Env map[string]string `conf:"env"`
}

// ExitEvent describes how a worker process exited.
type ExitEvent struct {
	// Code is the exit code of the process
	Code *int

	// Signal is the signal that caused the process to exit
	Signal *int
}

// ExitCode flattens the event into a single status code. Workers killed
// by a signal are reported as 128+signo, following shell convention.
func (e ExitEvent) ExitCode() int {
	if e.Code != nil {
		return *e.Code
	}
	if e.Signal != nil {
		return 128 + *e.Signal
	}
	return -1
}
