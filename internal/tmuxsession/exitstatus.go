package tmuxsession

import (
	"os/exec"
	"syscall"
)

var sigInterrupt = syscall.SIGINT

// exitCode extracts the child process's exit code from the error returned
// by exec.Cmd.Wait. Death by signal N yields -N; -1 is returned when the
// code cannot be determined (err is not an *exec.ExitError, e.g. nil or a
// launch failure).
func exitCode(err error) int {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Exited() {
			return status.ExitStatus()
		}
		if status.Signaled() {
			return -int(status.Signal())
		}
	}
	return -1
}

// isInterruptExit reports whether err represents the child having been
// killed by the SIGINT we sent from Stop.
func isInterruptExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled() && status.Signal() == syscall.SIGINT
}
