// Package supervisor manages the Live Event Loop process's lifecycle
// (spec.md §4.F): a PID file, start/stop/restart/status commands, and a
// maintenance sentinel that suspends the externally-scheduled watchdog's
// restart action. No pack example carries a process supervisor of this
// kind; the signal-handling convention is grounded in the teacher's own
// SIGTERM handling (market_maker/cmd/live_server/main.go,
// market_maker/internal/bootstrap/app.go) generalized from "shut down this
// process" to "manage a child process by PID file" (see DESIGN.md).
package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// readPID reads the decimal PID written at path, or 0 if the file does not
// exist or is empty.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// writePID writes pid as a single line at path.
func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// removePID removes the pid file, tolerating its absence.
func removePID(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// processAlive reports whether pid refers to a live process, using the
// conventional signal-0 liveness probe.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// sentinelExists reports whether the maintenance sentinel file is present.
func sentinelExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
