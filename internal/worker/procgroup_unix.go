//go:build unix

package worker

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the worker as the leader of a new process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals every process in the worker's group.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	return syscall.Kill(-p.Pid, sig)
}

// killGroup kills what is left of the group led by pid. ESRCH means nothing is.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
