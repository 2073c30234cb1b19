//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func detach(*exec.Cmd) {}

func signalPID(pid int, _ os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
