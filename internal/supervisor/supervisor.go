package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"dcaengine/internal/core"
)

// Supervisor manages a single child process — the Live Event Loop binary —
// tracked by a PID file, per spec.md §4.F.
type Supervisor struct {
	pidPath      string
	sentinelPath string
	binaryPath   string
	args         []string
	logger       core.ILogger
}

// New creates a Supervisor. binaryPath/args describe how to launch the
// Live Event Loop (cmd/dca-engine).
func New(pidPath, sentinelPath, binaryPath string, args []string, logger core.ILogger) *Supervisor {
	return &Supervisor{
		pidPath:      pidPath,
		sentinelPath: sentinelPath,
		binaryPath:   binaryPath,
		args:         args,
		logger:       logger.WithField("component", "supervisor"),
	}
}

// Status reports whether the supervised process is currently running.
func (s *Supervisor) Status() (running bool, pid int, err error) {
	pid, err = readPID(s.pidPath)
	if err != nil {
		return false, 0, err
	}
	if pid == 0 {
		return false, 0, nil
	}
	return processAlive(pid), pid, nil
}

// Start launches the supervised process if it is not already running.
func (s *Supervisor) Start() error {
	running, pid, err := s.Status()
	if err != nil {
		return err
	}
	if running {
		s.logger.Info("already running", "pid", pid)
		return nil
	}

	cmd := exec.Command(s.binaryPath, s.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := writePID(s.pidPath, cmd.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	s.logger.Info("started", "pid", cmd.Process.Pid)

	// Detach: the supervisor tracks the process by PID file, it does not
	// wait on it directly.
	go cmd.Wait()
	return nil
}

// Stop sends SIGTERM, waits up to 10s for the process to exit, then sends
// SIGKILL (spec.md §4.F).
func (s *Supervisor) Stop() error {
	running, pid, err := s.Status()
	if err != nil {
		return err
	}
	if !running {
		s.logger.Info("not running")
		return removePID(s.pidPath)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	s.logger.Info("sending SIGTERM", "pid", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal SIGTERM: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return removePID(s.pidPath)
		}
		time.Sleep(200 * time.Millisecond)
	}

	s.logger.Warn("process did not exit within grace period, sending SIGKILL", "pid", pid)
	if err := process.Signal(syscall.SIGKILL); err != nil && processAlive(pid) {
		return fmt.Errorf("signal SIGKILL: %w", err)
	}
	return removePID(s.pidPath)
}

// Restart stops then starts the supervised process.
func (s *Supervisor) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start()
}

// MaintenanceOn creates the maintenance sentinel, suspending watchdog
// restarts.
func (s *Supervisor) MaintenanceOn() error {
	f, err := os.Create(s.sentinelPath)
	if err != nil {
		return err
	}
	return f.Close()
}

// MaintenanceOff removes the maintenance sentinel.
func (s *Supervisor) MaintenanceOff() error {
	err := os.Remove(s.sentinelPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// InMaintenance reports whether the maintenance sentinel is present.
func (s *Supervisor) InMaintenance() bool { return sentinelExists(s.sentinelPath) }
