package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// proc is the supervisor's handle on one spawned worker process.
// It is owned exclusively by the Supervisor that created it.
type proc struct {
	pid         int
	cmd         *exec.Cmd
	termination chan struct{}

	// exit is valid once termination is closed
	exit ExitEvent

	log *zap.Logger
}

// startProc launches the worker with the handshake pipe's write end
// inherited as fd 3 and its descriptor number advertised via CommFdEnv.
func startProc(config StartConfig, comm *os.File, log *zap.Logger) (*proc, error) {
	cmd := exec.Command(config.Cmd, config.Args...)

	env := os.Environ()
	for k, v := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env, fmt.Sprintf("%s=%d", CommFdEnv, commChildFd))
	cmd.Env = env

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	cmd.ExtraFiles = []*os.File{comm}

	initCmd(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	log = log.Named("proc").With(zap.Int("pid", cmd.Process.Pid))

	process := &proc{
		pid:         cmd.Process.Pid,
		cmd:         cmd,
		termination: make(chan struct{}),
		log:         log,
	}

	go func() {
		// block until the process exits
		err := cmd.Wait()

		process.exit = getExitEvent(err)

		// close the termination channel
		close(process.termination)
	}()

	return process, nil
}

// exited reports whether the worker process has already terminated.
func (p *proc) exited() bool {
	select {
	case <-p.termination:
		return true
	default:
		return false
	}
}

// Terminate sends SIGTERM to the worker's process group to request a
// graceful stop. It returns immediately.
func (p *proc) Terminate() {
	p.signal(false)
}

// Kill sends SIGKILL to the worker's process group.
func (p *proc) Kill() {
	p.signal(true)
}

func (p *proc) signal(force bool) {
	// the signal is best effort; a process that already exited is fine
	if p.exited() {
		p.log.Debug("process already terminated")
		return
	}

	if err := p.killProcess(force); err != nil {
		p.log.Error("sending signal failed", zap.Error(err), zap.Bool("force", force))
	}
}

// Wait blocks until the worker process has exited.
func (p *proc) Wait() ExitEvent {
	<-p.termination
	return p.exit
}

// WaitFor blocks until the worker process has exited or the timeout is
// reached, reporting whether the process exited in time.
func (p *proc) WaitFor(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.termination:
		return true
	case <-timer.C:
		return false
	}
}

func getExitEvent(err error) ExitEvent {
	if err == nil {
		code := 0
		return ExitEvent{Code: &code}
	}

	if exitError, ok := err.(*exec.ExitError); ok {
		if status, ok := exitStatus(exitError); ok {
			return status
		}
	}

	// unknown failure mode, report a generic non-zero exit
	code := 1
	return ExitEvent{Code: &code}
}
