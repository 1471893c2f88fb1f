package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrLocked means another process holds the data directory.
var ErrLocked = errors.New("data directory in use")

// LockFile is the lock's name inside the data directory.
const LockFile = "resp.lock"

// FileLock is an exclusive, process-wide lock on the data directory. The
// holder's pid is written into the file so a refused process can name it.
// The OS drops the lock when the holder exits.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates an unheld lock on path
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path is the lock file
func (l *FileLock) Path() string {
	return l.path
}

// TryLock takes the lock or fails at once with ErrLocked.
func (l *FileLock) TryLock() error {
	if l.file != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if pid := l.Holder(); pid > 0 {
			return fmt.Errorf("%w: held by pid %d", ErrLocked, pid)
		}
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}

	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
		f.Sync()
	}
	l.file = f
	return nil
}

// Lock retries TryLock every poll until it succeeds or ctx is done.
func (l *FileLock) Lock(ctx context.Context, poll time.Duration) error {
	for {
		err := l.TryLock()
		if err == nil || !errors.Is(err, ErrLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(poll):
		}
	}
}

// Unlock releases the lock and leaves the file in place.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlockErr := unlockFile(f)
	if err := f.Close(); err != nil && unlockErr == nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	if unlockErr != nil {
		return fmt.Errorf("release lock: %w", unlockErr)
	}
	return nil
}

// Holder is the pid recorded by the current or last holder, 0 if unknown.
func (l *FileLock) Holder() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
