// Package lock provides a cross-process single-instance lock using
// flock(2). Two bridges driving the same switch would fight over its
// flow table, so serve holds the lock for its lifetime.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Lock is a held instance lock.
type Lock struct {
	f *os.File
}

// Acquire opens path and takes an exclusive lock on it, retrying
// with exponential backoff until ctx is done.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("%s is held by another p4bridge: %w", path, ctx.Err())
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Run acquires the lock, executes fn, then releases. wait bounds
// how long acquisition may take; fn runs with ctx.
func Run(ctx context.Context, path string, wait time.Duration, fn func(context.Context) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, wait)
	l, err := Acquire(acquireCtx, path)
	cancel()
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}
