//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

func configureDaemonProc(cmd *exec.Cmd) {
	// Windows has no Setsid; a new process group keeps Ctrl+C in the
	// viewer from reaching the watcher.
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
