package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// LockRegistry hands out one exclusive lock per zone file. Every engine in
// the process that writes a given file must share the same registry.
//
// A registry made by NewFileLockRegistry also takes an advisory lock on a
// sidecar file next to the key, so edits from separate processes (the
// records CLI next to a running server) serialise too.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	files bool
}

// NewLockRegistry creates an empty in-process registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]chan struct{})}
}

// NewFileLockRegistry creates a registry whose keys are file paths and
// whose locks also hold an flock on "<dir>/.<base>.lock".
func NewFileLockRegistry() *LockRegistry {
	r := NewLockRegistry()
	r.files = true
	return r
}

// DefaultLocks is the process-wide registry used when an engine is not
// given one explicitly.
var DefaultLocks = NewLockRegistry()

// Lock blocks until the lock for key is held or ctx is done. The returned
// unlock func must be called exactly once.
func (r *LockRegistry) Lock(ctx context.Context, key string) (unlock func(), err error) {
	ch := r.get(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !r.files {
		return func() { <-ch }, nil
	}

	f, err := lockFile(ctx, lockPath(key), true)
	if err != nil {
		<-ch
		return nil, err
	}
	return func() {
		unlockFile(f)
		<-ch
	}, nil
}

// TryLock acquires the lock for key only if it is free.
func (r *LockRegistry) TryLock(key string) (unlock func(), ok bool) {
	ch := r.get(key)
	select {
	case ch <- struct{}{}:
	default:
		return nil, false
	}
	if !r.files {
		return func() { <-ch }, true
	}

	f, err := lockFile(context.Background(), lockPath(key), false)
	if err != nil {
		<-ch
		return nil, false
	}
	return func() {
		unlockFile(f)
		<-ch
	}, true
}

func (r *LockRegistry) get(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[key] = ch
	}
	return ch
}

func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

func openLockFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
}
