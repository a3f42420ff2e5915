//go:build !unix

package lock

import "os"

var processAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
