package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"jabberwocky238/bindzone/internal/types"
)

// maxSameSecond bounds the "_N" suffix search for snapshots taken within
// one second.
const maxSameSecond = 1000

// DirStore keeps snapshots as plain files in one directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed and verifies it is writable.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("backup dir not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	slog.Debug("backup directory ready", "dir", dir)
	return &DirStore{dir: dir}, nil
}

// Dir returns the backup directory.
func (s *DirStore) Dir() string { return s.dir }

// Save writes data to a new file, choosing the first free "_N" suffix when
// the plain name is taken.
func (s *DirStore) Save(_ context.Context, base string, data []byte, at time.Time) (Snapshot, error) {
	for seq := 0; seq < maxSameSecond; seq++ {
		name := SnapshotName(base, at, seq)
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("create snapshot: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return Snapshot{}, fmt.Errorf("write snapshot: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(path)
			return Snapshot{}, fmt.Errorf("sync snapshot: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return Snapshot{}, fmt.Errorf("close snapshot: %w", err)
		}

		snap, _ := ParseName(base, name)
		snap.Size = int64(len(data))
		return snap, nil
	}
	return Snapshot{}, fmt.Errorf("too many snapshots of %s at %s", base, at.Format(TimeLayout))
}

// Load reads the named snapshot.
func (s *DirStore) Load(_ context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, types.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// List scans the directory for snapshots of base.
func (s *DirStore) List(_ context.Context, base string) ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		snap, ok := ParseName(base, e.Name())
		if !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			snap.Size = info.Size()
		}
		snaps = append(snaps, snap)
	}
	SortNewestFirst(snaps)
	return snaps, nil
}

// Delete removes the named snapshot. Deleting a missing snapshot is not an
// error.
func (s *DirStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

func (s *DirStore) path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("snapshot name %q: %w", name, types.ErrMalformedRequest)
	}
	return filepath.Join(s.dir, name), nil
}
