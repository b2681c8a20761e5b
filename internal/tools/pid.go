package tools

import (
	"os"
	"strconv"
)

// WritePidFile writes process PID to pidFile, no-op for empty path.
func WritePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	return os.WriteFile(pidFile, pid, 0644)
}

// RemovePidFile removes file written by WritePidFile.
func RemovePidFile(pidFile string) {
	if pidFile != "" {
		_ = os.Remove(pidFile)
	}
}
