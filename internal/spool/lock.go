package spool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process is flushing the same spool.
var ErrLocked = errors.New("spool is locked by another flush")

// Lock is a cross-process advisory lock next to the spool file.
type Lock struct {
	fl *flock.Flock
}

// LockPath is the lock file used for a spool path.
func LockPath(spoolPath string) string { return spoolPath + ".lock" }

func NewLock(spoolPath string) *Lock {
	return &Lock{fl: flock.New(LockPath(spoolPath))}
}

// TryLock waits up to timeout for the lock. It returns ErrLocked when the
// lock is still held elsewhere.
func (l *Lock) TryLock(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		ok, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("spool lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if ok {
		return nil
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("spool lock: %w", err)
	}
	return ErrLocked
}

func (l *Lock) Unlock() error { return l.fl.Unlock() }

func (l *Lock) Path() string { return l.fl.Path() }
