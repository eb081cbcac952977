//go:build !unix

package storage

import (
	"context"
	"fmt"
	"os"
)

// lockFile only creates the sidecar file; cross-process locking is not
// available on this platform.
func lockFile(_ context.Context, path string, _ bool) (*os.File, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func unlockFile(f *os.File) { f.Close() }
