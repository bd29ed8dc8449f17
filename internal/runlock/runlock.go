package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"castindex/internal/services"
)

// ErrHeld reports that another process holds the lock.
var ErrHeld = errors.New("another castindex process is running")

// Lock is an advisory file lock guarding the item store and ledger.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock at path without blocking. A held lock is a setup
// error wrapping ErrHeld.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrSetup, "runlock", "create lock directory", path, err)
	}
	l := &Lock{path: path, lock: flock.New(path)}
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrSetup, "runlock", "acquire", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrSetup, "runlock", "acquire", fmt.Sprintf("lock %s is held", path), ErrHeld)
	}
	return l, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. Releasing a nil lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
