// Package daemonrunner owns diachrond's process lifecycle: acquiring the
// daemon.lock/daemon.pid pair in <home>/.diachron and releasing it on
// shutdown. The advisory-lock and PID-file primitives themselves live in
// internal/lockfile; this package is the thin layer that knows what a
// running diachrond needs to record about itself.
package daemonrunner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/diachron/diachron/internal/lockfile"
)

// ErrDaemonLocked is returned by Acquire when another diachrond already
// holds the lock for this directory.
var ErrDaemonLocked = lockfile.ErrLocked

// Lock represents a held daemon.lock. Release it via Close when diachrond
// shuts down.
type Lock struct {
	file *os.File
	path string
}

// Close releases the flock, removes daemon.lock and daemon.pid, and closes
// the underlying file handle.
func (l *Lock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = lockfile.FlockUnlock(l.file)
	err := l.file.Close()
	_ = os.Remove(l.path)
	_ = os.Remove(filepath.Join(filepath.Dir(l.path), "daemon.pid"))
	l.file = nil
	return err
}

// Acquire takes the exclusive daemon.lock in dir, writes its JSON metadata,
// and mirrors the PID into daemon.pid for tools that only check the PID
// file. It returns ErrDaemonLocked if another diachrond is already running
// against dir.
func Acquire(dir, database, version string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("daemonrunner: create state dir: %w", err)
	}

	lockPath := filepath.Join(dir, "daemon.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 - dir is the caller's own state directory
	if err != nil {
		return nil, fmt.Errorf("daemonrunner: open daemon.lock: %w", err)
	}

	if err := lockfile.FlockExclusiveNonBlocking(f); err != nil {
		_ = f.Close()
		if lockfile.IsLocked(err) {
			return nil, ErrDaemonLocked
		}
		return nil, fmt.Errorf("daemonrunner: acquire lock: %w", err)
	}

	info := lockfile.LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  database,
		Version:   version,
		StartedAt: time.Now().UTC(),
	}
	if err := lockfile.WriteLockInfo(f, info); err != nil {
		_ = lockfile.FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("daemonrunner: write lock metadata: %w", err)
	}

	pidPath := filepath.Join(dir, "daemon.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o600); err != nil {
		_ = lockfile.FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("daemonrunner: write daemon.pid: %w", err)
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Status reports whether a diachrond is currently running against dir,
// without acquiring the lock itself. Safe to call from the CLI before
// starting or stopping the daemon.
func Status(dir string) (running bool, pid int) {
	return lockfile.TryDaemonLock(dir)
}
