//go:build windows

package cache

import "os"

// processAlive reports whether pid refers to a live process. Windows has
// no null-signal probe; opening the process and finding it gone is the
// best available signal, so a FindProcess failure is treated as dead.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
