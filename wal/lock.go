package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// lockExt is the suffix of the directory lock file: "<prefix>.lock".
const lockExt = ".lock"

// DirLock is an exclusive, PID-stamped lock file guarding a WAL directory
// against being opened for append by two processes at once (spec.md §4.2).
type DirLock struct {
	path string
	file *os.File
}

func lockPath(dir, prefix string) string {
	return filepath.Join(dir, prefix+lockExt)
}

// AcquireLock takes the directory lock for dir/prefix. If an existing lock
// file names a PID that is still alive, ErrLocked is returned. If the lock
// file is older than staleAge and its PID is no longer alive, it is
// reclaimed: this is the only case a lock file is removed out from under
// its apparent owner.
func AcquireLock(dir, prefix string, staleAge time.Duration) (*DirLock, error) {
	path := lockPath(dir, prefix)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d", os.Getpid()); werr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, fmt.Errorf("wal: writing lock file: %w", werr)
			}
			if serr := f.Sync(); serr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, fmt.Errorf("wal: syncing lock file: %w", serr)
			}
			return &DirLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("wal: creating lock file: %w", err)
		}

		stale, rerr := isStaleLock(path, staleAge)
		if rerr != nil {
			return nil, rerr
		}
		if !stale {
			return nil, ErrLocked
		}
		// Reclaim: remove the abandoned lock and retry the exclusive create.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("wal: reclaiming stale lock: %w", rmErr)
		}
	}
	return nil, ErrLocked
}

// isStaleLock reports whether the lock file at path is old enough and its
// owning PID is no longer a live process.
func isStaleLock(path string, staleAge time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Lost the race with another reclaimer; treat as not stale so
			// the caller retries the create and either wins or sees the
			// new owner's lock.
			return false, nil
		}
		return false, fmt.Errorf("wal: stat lock file: %w", err)
	}
	if time.Since(info.ModTime()) < staleAge {
		return false, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("wal: reading lock file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		// Unparseable contents: treat the lock as abandoned rather than
		// wedging the directory open forever.
		return true, nil
	}
	return !processAlive(pid), nil
}

// processAlive reports whether pid refers to a live process, using the
// POSIX convention that signal 0 only checks for existence/permission.
// Signal reports a vanished process as os.ErrProcessDone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}

// Release removes the lock file. Callers must only call this while still
// holding the lock (i.e. before process exit, or on clean shutdown).
func (l *DirLock) Release() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("wal: closing lock file: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: removing lock file: %w", err)
	}
	return nil
}
