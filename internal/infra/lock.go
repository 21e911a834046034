package infra

import (
	"fmt"

	"github.com/gofrs/flock"
)

// WorkDirLock holds an exclusive advisory lock on the work directory so two
// daemons never share tmp space or the SQLite database.
type WorkDirLock struct {
	lock *flock.Flock
}

// AcquireWorkDirLock takes the lock or fails fast when another process owns it.
func AcquireWorkDirLock(path string) (*WorkDirLock, error) {
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock work dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("work dir is locked by another process (lock file %s)", path)
	}
	return &WorkDirLock{lock: l}, nil
}

// Release drops the lock.
func (w *WorkDirLock) Release() error {
	if w == nil || w.lock == nil {
		return nil
	}
	return w.lock.Unlock()
}
