//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup configures cmd to run in its own process group so that
// Terminate can signal the whole tree (e.g. a shell pipeline) at once,
// mirroring bashful's Setpgid use.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return unix.Kill(-pid, sig)
}

// killDirect signals pid itself, bypassing the process group. Used as the
// fallback when signalGroup fails (e.g. the child already reaped its group).
func killDirect(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }

// wasSignaled reports whether ws indicates the process died from a delivered
// signal, distinguishing a forceful kill from a plain non-zero exit.
func wasSignaled(ws syscall.WaitStatus) bool {
	return ws.Signaled()
}
