// Package singleinstance prevents two clients from fighting over the same
// clipboard on one machine.
package singleinstance

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning means another tailsync client holds the lock.
var ErrAlreadyRunning = errors.New("another tailsync instance is already running")

// Lock is a held single-instance lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock file without blocking. Failure to acquire is one
// of the few fatal startup conditions for the client.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Called last during shutdown, after the transport
// is closed.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
