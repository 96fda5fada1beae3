// Package lockfile implements the daemon.lock/daemon.pid pair that keeps two
// diachrond processes from serving the same database simultaneously.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when a lock cannot be acquired because it is held
// by another process.
var ErrLocked = errDaemonLocked

// ErrLockBusy is returned when a non-blocking lock cannot be acquired
// because another process holds a conflicting lock.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsLocked returns true if the error indicates a lock is held by another
// process.
func IsLocked(err error) bool {
	return err == errDaemonLocked
}

// LockInfo is the JSON metadata persisted to daemon.lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLockInfo reads dir/daemon.lock, accepting both the current JSON
// format and the legacy plain-PID format.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.lock")) // #nosec G304 - dir is the daemon's own state directory
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}

	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
		return &LockInfo{PID: pid}, nil
	}

	return nil, fmt.Errorf("lockfile: unrecognized daemon.lock format")
}

// WriteLockInfo overwrites f with info's JSON encoding.
func WriteLockInfo(f *os.File, info LockInfo) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		return err
	}
	return f.Sync()
}

// checkPIDFile reads dir/daemon.pid and reports whether the PID it names is
// currently running.
func checkPIDFile(dir string) (running bool, pid int) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.pid")) // #nosec G304 - dir is the daemon's own state directory
	if err != nil {
		return false, 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}
	if !isProcessRunning(p) {
		return false, 0
	}
	return true, p
}

// TryDaemonLock reports whether a diachrond is already running against dir,
// without blocking. It prefers the advisory flock on daemon.lock and falls
// back to checking whether daemon.pid names a live process.
func TryDaemonLock(dir string) (running bool, pid int) {
	f, err := os.OpenFile(filepath.Join(dir, "daemon.lock"), os.O_RDWR, 0o600) // #nosec G304 - dir is the daemon's own state directory
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if err := FlockExclusiveNonBlocking(f); err == nil {
		_ = FlockUnlock(f)
		return false, 0
	} else if err != errDaemonLocked {
		return checkPIDFile(dir)
	}

	if info, err := ReadLockInfo(dir); err == nil && info.PID > 0 {
		return true, info.PID
	}
	return checkPIDFile(dir)
}
