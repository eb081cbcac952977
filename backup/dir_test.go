package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jabberwocky238/bindzone/internal/types"
)

func TestSnapshotName(t *testing.T) {
	at := time.Date(2024, time.January, 15, 9, 4, 5, 0, time.Local)

	assert.Equal(t, "db.example.com.20240115_090405", SnapshotName("db.example.com", at, 0))
	assert.Equal(t, "db.example.com.20240115_090405_2", SnapshotName("db.example.com", at, 2))

	snap, ok := ParseName("db.example.com", "db.example.com.20240115_090405_2")
	require.True(t, ok)
	assert.True(t, snap.Time.Equal(at))
	assert.Equal(t, 2, snap.Seq)

	for _, name := range []string{
		"db.example.com",
		"db.example.com.2024",
		"db.example.com.20240115_090405_",
		"db.example.com.20240115_090405_0",
		"db.example.com.20240115_090405x",
		"db.other.com.20240115_090405",
	} {
		_, ok := ParseName("db.example.com", name)
		assert.False(t, ok, name)
	}
}

func TestDirStore_SaveLoadList(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")
	store, err := NewDirStore(dir)
	require.NoError(t, err)

	at := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.Local)
	first, err := store.Save(ctx, "db.example.com", []byte("one\n"), at)
	require.NoError(t, err)
	second, err := store.Save(ctx, "db.example.com", []byte("two\n"), at)
	require.NoError(t, err)
	third, err := store.Save(ctx, "db.example.com", []byte("three\n"), at.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, "db.example.com.20240115_090000", first.Name)
	assert.Equal(t, "db.example.com.20240115_090000_1", second.Name)

	data, err := store.Load(ctx, second.Name)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	snaps, err := store.List(ctx, "db.example.com")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []string{third.Name, second.Name, first.Name}, []string{snaps[0].Name, snaps[1].Name, snaps[2].Name})
	assert.Equal(t, int64(6), snaps[0].Size)
}

func TestDirStore_LoadDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(ctx, "db.example.com.20240115_090000")
	require.ErrorIs(t, err, types.ErrSnapshotNotFound)

	_, err = store.Load(ctx, "../etc/passwd")
	require.ErrorIs(t, err, types.ErrMalformedRequest)

	snap, err := store.Save(ctx, "db.example.com", []byte("x"), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, snap.Name))
	require.NoError(t, store.Delete(ctx, snap.Name))

	_, err = store.Load(ctx, snap.Name)
	require.ErrorIs(t, err, types.ErrSnapshotNotFound)
}

func TestNewDirStore_NotWritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewDirStore(file)
	require.Error(t, err)
}
