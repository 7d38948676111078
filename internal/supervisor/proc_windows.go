//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var errNoProcessGroupSignal = errors.New("process-group signaling is unavailable on windows")

// setProcessGroup requests hidden-window behavior on Windows, where
// process groups in the POSIX sense don't apply (spec.md §4.2 "A platform
// flag requests hidden-window behavior where applicable").
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// signalGroup on Windows has no process-group signal; callers fall back to
// killing the top-level process directly.
func signalGroup(pid int, sig syscall.Signal) error {
	return errNoProcessGroupSignal
}

// killDirect terminates pid via os.Process.Kill; Windows has no per-signal
// delivery to an arbitrary pid outside the owning *exec.Cmd, so every signal
// escalates straight to TerminateProcess.
func killDirect(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// wasSignaled is always false on Windows: syscall.WaitStatus there carries
// only an exit code, with no POSIX signal-disposition bit to inspect.
func wasSignaled(ws syscall.WaitStatus) bool {
	return false
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }
