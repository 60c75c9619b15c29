//go:build windows

package supervisor

import "os/exec"

func (p *proc) killProcess(_ bool) error {
	return p.cmd.Process.Kill()
}

func initCmd(cmd *exec.Cmd) {
	// No-op on Windows.
}

func exitStatus(err *exec.ExitError) (ExitEvent, bool) {
	code := err.ExitCode()
	return ExitEvent{Code: &code}, true
}
