//go:build unix

package isolate

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the worker in its own process group so a kill
// reaches its helpers too. Chrome starts its own group; it dies through
// leakless, and its profile lives in the work dir the parent removes.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the worker's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func closeOnExec(f *os.File) {
	syscall.CloseOnExec(int(f.Fd()))
}
