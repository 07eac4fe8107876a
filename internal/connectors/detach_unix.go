//go:build !windows

package connectors

import (
	"os/exec"
	"syscall"
)

// detach уводит процесс в свою группу, чтобы сигнал шлюзу его не задел.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
