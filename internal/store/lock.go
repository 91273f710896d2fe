package store

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/matsen/promise/internal/config"
)

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("data directory is in use by another promise process")

// Lock is an exclusive, advisory lock on a data directory.
type Lock struct {
	lock *flock.Flock
}

// AcquireLock takes the data directory lock without waiting.
func AcquireLock(dataDir string) (*Lock, error) {
	if err := config.EnsureDataDir(dataDir); err != nil {
		return nil, err
	}

	path := config.LockPath(dataDir)
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return &Lock{lock: l}, nil
}

// Release unlocks the data directory.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
