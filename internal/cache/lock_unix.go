//go:build !windows

package cache

import (
	"os"
	"syscall"
)

// processAlive reports whether pid refers to a live process, using the
// null-signal probe idiom: sending signal 0 performs all error checking
// without actually delivering a signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
