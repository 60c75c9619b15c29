//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

func (p *proc) killProcess(force bool) error {
	signal := syscall.SIGTERM
	if force {
		signal = syscall.SIGKILL
	}
	if pgid, err := syscall.Getpgid(p.pid); err == nil {
		// Negative pid sends signal to all in process group
		return syscall.Kill(-pgid, signal)
	} else {
		return syscall.Kill(p.pid, signal)
	}
}

func initCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func exitStatus(err *exec.ExitError) (ExitEvent, bool) {
	status, ok := err.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitEvent{}, false
	}

	if code := status.ExitStatus(); code >= 0 {
		return ExitEvent{Code: &code}, true
	}

	signo := int(status.Signal())
	return ExitEvent{Signal: &signo}, true
}
