// Package lockfile keeps two AskForHelp processes from sharing a state
// directory. The lock is an flock on a file inside the directory, so the
// kernel drops it when the holder exits, however it exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "askforhelp.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started string
	Running bool
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if o.Running {
		state = "running"
	}
	if o.Started != "" {
		return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.Started, state)
	}
	return fmt.Sprintf("PID %d (%s)", o.PID, state)
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another AskForHelp instance holds %s (%s); remove the file only if that process is gone",
		e.LockPath, e.Owner)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// AcquireLock takes the lock on stateDir, creating the directory if needed.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// Not truncated on open: a losing process must still read the winner's record.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := ReadOwner(path)
		slog.Error("Lockfile state directory already locked", "path", path, "owner", owner.String())
		return nil, &LockError{LockPath: path, Owner: owner, Cause: err}
	}

	record := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := writeRecord(file, record); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("Lockfile acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeRecord(file *os.File, record string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(record), 0); err != nil {
		return err
	}
	return file.Sync()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove first so a waiting process never sees our stale record.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile remove failed", "path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile unlock failed", "path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile released", "path", l.path)
	return err
}

// ReadOwner parses the record in the lock file at path.
func ReadOwner(path string) Owner {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}
	}
	var owner Owner
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				owner.PID = pid
			}
		case "started":
			owner.Started = value
		}
	}
	if owner.PID > 0 {
		owner.Running = processRunning(owner.PID)
	}
	return owner
}

// processRunning probes pid with signal 0.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
