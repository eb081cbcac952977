package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jabberwocky238/bindzone/backup"
	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/reload"
	"jabberwocky238/bindzone/zonefile"
)

const testZone = `$TTL 3600
$ORIGIN example.com.
@	IN	SOA	ns1.example.com. admin.example.com. (
		2024010101 ; serial
		3600 1800 604800 86400 )
@	IN	NS	ns1.example.com.
ns1	IN	A	10.0.0.1
www	IN	A	10.0.0.2
`

var testNow = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.Local)

type fixture struct {
	dir     string
	path    string
	backups *backup.DirStore
	locks   *LockRegistry
	engine  *Engine
}

func newFixture(t *testing.T, trigger reload.Trigger, opts ...func(*Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "db.example.com")
	require.NoError(t, os.WriteFile(path, []byte(testZone), 0o640))

	store, err := backup.NewDirStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{dir: dir, path: path, backups: store, locks: NewLockRegistry()}
	cfg := Config{Zone: "example.com.", Path: path, Backups: store, Reloader: trigger, Locks: f.locks}
	for _, o := range opts {
		o(&cfg)
	}
	f.engine = f.newEngine(t, cfg)
	return f
}

func (f *fixture) newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	e.now = func() time.Time { return testNow }
	return e
}

func (f *fixture) content(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) snapshots(t *testing.T) []backup.Snapshot {
	t.Helper()
	snaps, err := f.backups.List(context.Background(), "db.example.com")
	require.NoError(t, err)
	return snaps
}

func addr(name, ip string) types.Record {
	rt := types.RecordTypeA
	if strings.Contains(ip, ":") {
		rt = types.RecordTypeAAAA
	}
	return types.Record{Name: name, Type: rt, Data: ip}
}

func TestEngine_AddVerified(t *testing.T) {
	var gotSerial uint32
	f := newFixture(t, reload.Func(func(_ context.Context, zone string, serial uint32) error {
		assert.Equal(t, "example.com", zone)
		gotSerial = serial
		return nil
	}))

	res, err := f.engine.Add(context.Background(), addr("foo.example.com", "10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Equal(t, uint32(2024010101), res.OldSerial)
	assert.Equal(t, uint32(2024010102), res.Serial)
	assert.Equal(t, uint32(2024010102), gotSerial)
	require.Len(t, res.Changes.Added, 1)

	want := strings.Replace(testZone, "2024010101", "2024010102", 1) + "foo.example.com.\tIN\tA\t10.0.0.5\n"
	assert.Equal(t, want, f.content(t))

	info, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	snaps := f.snapshots(t)
	require.Len(t, snaps, 1)
	assert.Equal(t, res.Snapshot.Name, snaps[0].Name)
	data, err := f.backups.Load(context.Background(), snaps[0].Name)
	require.NoError(t, err)
	assert.Equal(t, testZone, string(data))

	// No temp files are left behind.
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_ReloadFailureRollsBack(t *testing.T) {
	f := newFixture(t, reload.Func(func(context.Context, string, uint32) error {
		return errors.New("rndc: zone example.com/IN: not loaded due to errors")
	}))

	res, err := f.engine.Add(context.Background(), addr("foo.example.com", "10.0.0.5"))
	require.ErrorIs(t, err, types.ErrReloadFailed)
	assert.Equal(t, types.ReasonReloadFailed, types.Reason(err))
	assert.Contains(t, err.Error(), "not loaded due to errors")
	assert.Equal(t, StateRolledBack, res.State)

	assert.Equal(t, testZone, f.content(t))
	assert.Len(t, f.snapshots(t), 1)

	recs, err := f.engine.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestEngine_ReloadTimeoutRollsBack(t *testing.T) {
	f := newFixture(t, reload.Func(func(ctx context.Context, _ string, _ uint32) error {
		<-ctx.Done()
		return ctx.Err()
	}), func(c *Config) { c.ReloadTimeout = 20 * time.Millisecond })

	_, err := f.engine.Delete(context.Background(), types.ByNameType("www.example.com", types.RecordTypeA))
	require.ErrorIs(t, err, types.ErrReloadFailed)
	assert.Equal(t, testZone, f.content(t))
}

func TestEngine_RollbackFailure(t *testing.T) {
	var f *fixture
	f = newFixture(t, reload.Func(func(context.Context, string, uint32) error {
		require.NoError(t, os.RemoveAll(f.dir))
		return errors.New("rejected")
	}))

	res, err := f.engine.Add(context.Background(), addr("foo.example.com", "10.0.0.5"))
	require.ErrorIs(t, err, types.ErrRollbackFailed)
	require.ErrorIs(t, err, types.ErrReloadFailed)
	assert.Equal(t, types.ReasonRollbackFailed, types.Reason(err))
	assert.Equal(t, StateWritten, res.State)

	// The snapshot survives for manual recovery.
	data, err := f.backups.Load(context.Background(), res.Snapshot.Name)
	require.NoError(t, err)
	assert.Equal(t, testZone, string(data))
}

func TestEngine_ConflictWritesNothing(t *testing.T) {
	var reloads atomic.Int32
	f := newFixture(t, reload.Func(func(context.Context, string, uint32) error {
		reloads.Add(1)
		return nil
	}))

	tests := []struct {
		name string
		op   func() (*Result, error)
		err  error
	}{
		{
			name: "duplicate",
			op:   func() (*Result, error) { return f.engine.Add(context.Background(), addr("www.example.com", "10.0.0.2")) },
			err:  types.ErrRecordExists,
		},
		{
			name: "missing",
			op: func() (*Result, error) {
				return f.engine.Delete(context.Background(), types.ByNameType("nope.example.com", types.RecordTypeA))
			},
			err: types.ErrRecordNotFound,
		},
		{
			name: "protected",
			op: func() (*Result, error) {
				return f.engine.Add(context.Background(), types.Record{Name: "example.com", Type: types.RecordTypeNS, Data: "ns2.example.com."})
			},
			err: types.ErrProtectedRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.op()
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, StateIdle, res.State)
			assert.Equal(t, testZone, f.content(t))
			assert.Empty(t, f.snapshots(t))
		})
	}
	assert.Zero(t, reloads.Load())
}

// rejectName fails the check for any candidate that mentions the name.
type rejectName string

func (n rejectName) Check(_ context.Context, data []byte, _, _ string) error {
	if strings.Contains(string(data), string(n)) {
		return fmt.Errorf("%w: %s is not allowed", types.ErrZoneCheckFailed, string(n))
	}
	return nil
}

func TestEngine_ZoneCheckFailure(t *testing.T) {
	f := newFixture(t, reload.Noop, func(c *Config) {
		c.Checker = Checkers{BuiltinChecker{}, rejectName("bad.example.com")}
	})

	_, err := f.engine.Add(context.Background(), addr("bad.example.com", "10.0.0.8"))
	require.ErrorIs(t, err, types.ErrZoneCheckFailed)
	assert.Equal(t, testZone, f.content(t))
	assert.Empty(t, f.snapshots(t))

	_, err = f.engine.Add(context.Background(), addr("good.example.com", "10.0.0.9"))
	require.NoError(t, err)
}

type failingStore struct{ backup.Store }

func (failingStore) Save(context.Context, string, []byte, time.Time) (backup.Snapshot, error) {
	return backup.Snapshot{}, errors.New("disk full")
}

func TestEngine_RejectsBadRdata(t *testing.T) {
	var reloads atomic.Int32
	f := newFixture(t, reload.Func(func(context.Context, string, uint32) error {
		reloads.Add(1)
		return nil
	}))
	ctx := context.Background()

	_, err := f.engine.Add(ctx, types.Record{Name: "bad.example.com", Type: types.RecordTypeA, Data: "not-an-ip"})
	require.ErrorIs(t, err, types.ErrInvalidIP)
	_, err = f.engine.Add(ctx, types.Record{Name: "mx.example.com", Type: types.RecordTypeMX, Data: "mail.example.com."})
	require.ErrorIs(t, err, types.ErrMalformedRequest)
	_, err = f.engine.Update(ctx, types.ByNameType("ns1.example.com", types.RecordTypeA), types.RecordFields{Data: "fe80::1"})
	require.ErrorIs(t, err, types.ErrInvalidIP)

	assert.Equal(t, testZone, f.content(t))
	assert.Empty(t, f.snapshots(t))
	assert.Zero(t, reloads.Load())

	_, err = f.engine.Health(ctx)
	require.NoError(t, err)
}

func TestEngine_BackupFailure(t *testing.T) {
	var reloads atomic.Int32
	f := newFixture(t, reload.Func(func(context.Context, string, uint32) error {
		reloads.Add(1)
		return nil
	}), func(c *Config) { c.Backups = failingStore{} })

	res, err := f.engine.Add(context.Background(), addr("foo.example.com", "10.0.0.5"))
	require.ErrorIs(t, err, types.ErrBackupFailed)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, testZone, f.content(t))
	assert.Zero(t, reloads.Load())
}

func TestEngine_SerialOverflow(t *testing.T) {
	f := newFixture(t, reload.Noop)
	require.NoError(t, os.WriteFile(f.path, []byte(strings.Replace(testZone, "2024010101", "2024010199", 1)), 0o640))

	_, err := f.engine.Add(context.Background(), addr("foo.example.com", "10.0.0.5"))
	require.ErrorIs(t, err, types.ErrSerialOverflow)
	assert.Empty(t, f.snapshots(t))
}

func TestEngine_NoSOANoBump(t *testing.T) {
	f := newFixture(t, reload.Noop)
	require.NoError(t, os.WriteFile(f.path, []byte("www IN A 10.0.0.2\n"), 0o640))

	res, err := f.engine.Add(context.Background(), addr("foo.example.com", "10.0.0.5"))
	require.NoError(t, err)
	assert.False(t, res.Bumped)
	assert.Equal(t, "www IN A 10.0.0.2\nfoo.example.com.\tIN\tA\t10.0.0.5\n", f.content(t))
}

// overlap counts backup→write→reload sequences in flight: one starts when
// the snapshot is saved and ends when the reload returns.
type overlap struct {
	inFlight, peak atomic.Int32
}

func (o *overlap) enter() {
	n := o.inFlight.Add(1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (o *overlap) leave() { o.inFlight.Add(-1) }

type trackedStore struct {
	backup.Store
	track *overlap
}

func (s trackedStore) Save(ctx context.Context, base string, data []byte, at time.Time) (backup.Snapshot, error) {
	s.track.enter()
	return s.Store.Save(ctx, base, data, at)
}

func TestEngine_ConcurrentAdds(t *testing.T) {
	track := &overlap{}
	trigger := reload.Func(func(context.Context, string, uint32) error {
		defer track.leave()
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	f := newFixture(t, trigger, func(c *Config) { c.Backups = trackedStore{Store: c.Backups, track: track} })
	// A second engine on the same file shares the lock registry.
	other := f.newEngine(t, Config{
		Zone:     "example.com",
		Path:     f.path,
		Backups:  trackedStore{Store: f.backups, track: track},
		Reloader: trigger,
		Locks:    f.locks,
	})

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := f.engine
			if i%2 == 1 {
				e = other
			}
			_, err := e.Add(context.Background(), addr(fmt.Sprintf("host%d.example.com", i), fmt.Sprintf("10.0.1.%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	recs, err := f.engine.Records(context.Background(), types.RecordTypeA)
	require.NoError(t, err)
	assert.Len(t, recs, 2+n)

	doc := zonefile.Parse(f.content(t), "example.com")
	serial, ok := doc.Serial()
	require.True(t, ok)
	assert.Equal(t, uint32(2024010101+n), serial)
	assert.Len(t, f.snapshots(t), n)
	assert.Equal(t, int32(1), track.peak.Load(), "persistence sequences overlapped")
	assert.Zero(t, track.inFlight.Load())
}

func TestEngine_CancellationAfterWriteIsIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, reload.Func(func(rctx context.Context, _ string, _ uint32) error {
		cancel()
		return rctx.Err()
	}))

	res, err := f.engine.Add(ctx, addr("foo.example.com", "10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
	assert.Contains(t, f.content(t), "foo.example.com.")
}

func TestEngine_LockHonoursContext(t *testing.T) {
	f := newFixture(t, reload.Noop)
	unlock, err := f.locks.Lock(context.Background(), f.engine.Path())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.engine.Add(ctx, addr("foo.example.com", "10.0.0.5"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, testZone, f.content(t))
}

func TestEngine_Restore(t *testing.T) {
	f := newFixture(t, reload.Noop)
	ctx := context.Background()

	first, err := f.engine.Add(ctx, addr("a.example.com", "10.0.0.5"))
	require.NoError(t, err)
	_, err = f.engine.Add(ctx, addr("b.example.com", "10.0.0.6"))
	require.NoError(t, err)

	res, err := f.engine.Restore(ctx, first.Snapshot.Name)
	require.NoError(t, err)
	assert.Equal(t, uint32(2024010103), res.OldSerial)
	assert.Equal(t, uint32(2024010104), res.Serial)
	assert.Equal(t, strings.Replace(testZone, "2024010101", "2024010104", 1), f.content(t))
	require.Len(t, res.Changes.Deleted, 2)

	_, err = f.engine.Restore(ctx, "db.example.com.19990101_000000")
	require.ErrorIs(t, err, types.ErrSnapshotNotFound)
}

func TestEngine_Health(t *testing.T) {
	f := newFixture(t, reload.Noop)
	res, err := f.engine.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2024010101), res.Serial)

	require.NoError(t, os.WriteFile(f.path, []byte("www IN A nope\n"), 0o640))
	_, err = f.engine.Health(context.Background())
	require.ErrorIs(t, err, types.ErrZoneCheckFailed)
}

func TestNewEngine_Validation(t *testing.T) {
	store, err := backup.NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewEngine(Config{Path: "db.example.com", Backups: store})
	require.Error(t, err)
	_, err = NewEngine(Config{Zone: "example.com", Backups: store})
	require.Error(t, err)
	_, err = NewEngine(Config{Zone: "example.com", Path: "db.example.com"})
	require.Error(t, err)
}
