// Package runnerlock implements the single-runner exclusive lock (C7):
// only one runner process may hold it at a time, and the OS releases
// it automatically on process exit so crash recovery can proceed.
package runnerlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Acquire when another live process
// already holds the lock.
var ErrAlreadyRunning = errors.New("runnerlock: runner already running")

// Lock is a held instance of the single-runner lock. Call Release
// when the runner shuts down (though process exit alone also frees
// the underlying flock).
type Lock struct {
	flock   *flock.Flock
	pidPath string
}

// Acquire takes the exclusive non-blocking lock at runtimeDir/runner.lock
// and records the current PID in a sidecar runtimeDir/runner.pid file.
// A concurrent holder causes ErrAlreadyRunning.
func Acquire(runtimeDir string) (*Lock, error) {
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("runnerlock: mkdir %s: %w", runtimeDir, err)
	}

	lockPath := filepath.Join(runtimeDir, "runner.lock")
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("runnerlock: lock %s: %w", lockPath, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	pidPath := filepath.Join(runtimeDir, "runner.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("runnerlock: write pid file %s: %w", pidPath, err)
	}

	return &Lock{flock: fl, pidPath: pidPath}, nil
}

// Release unlocks the lock and removes the PID sidecar file.
func (l *Lock) Release() error {
	os.Remove(l.pidPath)
	return l.flock.Unlock()
}
