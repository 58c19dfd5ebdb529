package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Dicklesworthstone/procmon/internal/fsinfo"
	"github.com/Dicklesworthstone/procmon/internal/identity"
	"github.com/Dicklesworthstone/procmon/internal/model"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
	"github.com/Dicklesworthstone/procmon/internal/procfs/procfstest"
	"github.com/Dicklesworthstone/procmon/internal/sampler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	tree  *procfstest.Tree
	dir   string
	store *Store
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	tr := procfstest.New(t)
	tr.SetCPU(100, 100, 800, 0)
	tr.WriteFile("mounts", "/dev/sda1 / ext4 rw 0 0\n")
	tr.AddProcess(procfstest.Process{PID: 5, Name: "worker", UTime: 50, RSSKB: 1024})
	tr.AddProcess(procfstest.Process{PID: 20, Name: "db", UTime: 900, RSSKB: 4096})
	tr.AddProcess(procfstest.Process{PID: 7, Name: "idle", UTime: 1, RSSKB: 16})

	passwd := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(passwd, []byte("root:x:0:0::/root:/bin/sh\n"), 0o644))
	users := identity.New(passwd)
	log := zaptest.NewLogger(t)
	fsys := procfs.New(tr.Root)

	smp := sampler.New(sampler.Options{FS: fsys, Users: users, Logger: log, CPUs: 2, ClockTicks: 100})
	srv := fsinfo.New(fsinfo.Options{
		FS:     fsys,
		Users:  users,
		Logger: log,
		Stat: func(string) (fsinfo.Usage, error) {
			return fsinfo.Usage{Total: 10 << 20, Free: 4 << 20}, nil
		},
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	st, err := New(Options{
		Collector: smp,
		Surveyor:  srv,
		Logger:    log,
		Directory: dir,
		Limit:     limit,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return &fixture{tree: tr, dir: dir, store: st}
}

func pids(recs []model.ProcessRecord) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.PID)
	}
	return out
}

func TestZeroSnapshotBeforeFirstCycle(t *testing.T) {
	f := newFixture(t, 10)
	snap := f.store.Snapshot()
	assert.Zero(t, snap.Sequence)
	assert.Empty(t, snap.Processes)
	assert.Equal(t, f.dir, snap.CurrentPath)
	assert.False(t, f.store.Running())
}

func TestRefreshPublishesEveryFamily(t *testing.T) {
	f := newFixture(t, 2)
	require.NoError(t, f.store.Refresh())

	snap := f.store.Snapshot()
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.Equal(t, []int{20, 5}, pids(snap.Processes))
	assert.Equal(t, 3, snap.Global.ProcessCount)
	assert.InDelta(t, 20, snap.Global.CPUUsedPct, 1e-9)
	require.Len(t, snap.Filesystem.Partitions, 1)
	assert.Equal(t, "/", snap.Filesystem.Partitions[0].MountPoint)
	assert.Equal(t, f.dir, snap.CurrentPath)
	require.Len(t, snap.Directory.Entries, 1)
	assert.Equal(t, "notes.txt", snap.Directory.Entries[0].Name)
	assert.Equal(t, uint64(1), f.store.cycles.Load())
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.Refresh())

	a := f.store.Snapshot()
	a.Processes[0].Name = "mutated"
	a.Directory.Entries[0].Name = "mutated"
	a.Filesystem.Partitions[0].MountPoint = "mutated"

	b := f.store.Snapshot()
	assert.Equal(t, "db", b.Processes[0].Name)
	assert.Equal(t, "notes.txt", b.Directory.Entries[0].Name)
	assert.Equal(t, "/", b.Filesystem.Partitions[0].MountPoint)
}

func TestSetProcessLimit(t *testing.T) {
	f := newFixture(t, 10)
	require.ErrorIs(t, f.store.SetProcessLimit(0), ErrInvalidLimit)
	require.ErrorIs(t, f.store.SetProcessLimit(-3), ErrInvalidLimit)
	assert.Equal(t, 10, f.store.ProcessLimit())

	require.NoError(t, f.store.SetProcessLimit(1))
	require.NoError(t, f.store.Refresh())
	assert.Equal(t, []int{20}, pids(f.store.Snapshot().Processes))
}

func TestSetCurrentDirectoryRejectsRegularFile(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.Refresh())
	before := f.store.Snapshot()

	err := f.store.SetCurrentDirectory(filepath.Join(f.dir, "notes.txt"))
	require.ErrorIs(t, err, fsinfo.ErrNotDirectory)
	assert.Equal(t, f.dir, f.store.CurrentDirectory())

	require.NoError(t, f.store.Refresh())
	after := f.store.Snapshot()
	assert.Equal(t, before.CurrentPath, after.CurrentPath)
	assert.Equal(t, before.Directory.Entries, after.Directory.Entries)
}

func TestSetCurrentDirectoryAppliesOnNextCycle(t *testing.T) {
	f := newFixture(t, 10)
	sub := filepath.Join(f.dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner"), nil, 0o644))
	require.NoError(t, f.store.Refresh())

	require.NoError(t, f.store.SetCurrentDirectory(sub+"/"))
	assert.Equal(t, sub, f.store.CurrentDirectory())
	assert.Equal(t, f.dir, f.store.Snapshot().CurrentPath)

	require.NoError(t, f.store.Refresh())
	snap := f.store.Snapshot()
	assert.Equal(t, sub, snap.CurrentPath)
	require.Len(t, snap.Directory.Entries, 1)
	assert.Equal(t, "inner", snap.Directory.Entries[0].Name)
}

func TestDirectoryRemovedBetweenCycles(t *testing.T) {
	f := newFixture(t, 10)
	sub := filepath.Join(f.dir, "tmp")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, f.store.SetCurrentDirectory(sub))
	require.NoError(t, os.Remove(sub))

	require.NoError(t, f.store.Refresh())
	snap := f.store.Snapshot()
	assert.Equal(t, sub, snap.CurrentPath)
	assert.NotEmpty(t, snap.Directory.Err)
	assert.Empty(t, snap.Directory.Entries)
}

func TestProcessDetailsMergesPublishedRates(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.Refresh())
	f.tree.AddProcess(procfstest.Process{PID: 20, Name: "db", UTime: 1000, RSSKB: 4096, ReadBytes: 2048})
	require.NoError(t, f.store.Refresh())

	d, ok := f.store.ProcessDetails(20)
	require.True(t, ok)
	assert.Equal(t, "db", d.Name)
	assert.InDelta(t, 100, d.CPUPercent, 1e-9)
	assert.InDelta(t, 2048, d.IOReadBps, 1e-9)

	_, ok = f.store.ProcessDetails(999)
	assert.False(t, ok)
}

func TestVanishedProcessLeavesSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.Refresh())
	f.tree.RemoveProcess(20)
	require.NoError(t, f.store.Refresh())
	assert.NotContains(t, pids(f.store.Snapshot().Processes), 20)
}

type panickingCollector struct{}

func (panickingCollector) Collect(time.Time, int) (model.GlobalMetrics, []model.ProcessRecord, error) {
	panic("boom")
}

func (panickingCollector) Detail(int) (model.ProcessDetail, bool) { return model.ProcessDetail{}, false }

func TestCyclePanicKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.Refresh())
	want := f.store.Snapshot()

	f.store.collector = panickingCollector{}
	err := f.store.Refresh()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, want, f.store.Snapshot())
	assert.Equal(t, uint64(1), f.store.cycles.Load())
}

func TestStartRejectsInvalidArguments(t *testing.T) {
	f := newFixture(t, 10)
	require.ErrorIs(t, f.store.Start(context.Background(), 0, 5), ErrInvalidInterval)
	require.ErrorIs(t, f.store.Start(context.Background(), time.Second, 0), ErrInvalidLimit)
	assert.False(t, f.store.Running())
	assert.Zero(t, f.store.loops.Load())
}

func TestNewRejectsFileDirectory(t *testing.T) {
	f := newFixture(t, 10)
	_, err := New(Options{
		Collector: f.store.collector,
		Surveyor:  f.store.surveyor,
		Directory: filepath.Join(f.dir, "notes.txt"),
	})
	require.ErrorIs(t, err, fsinfo.ErrNotDirectory)
}

func TestStartIsIdempotentUnderConcurrentReaders(t *testing.T) {
	f := newFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const starters = 16
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.store.Start(ctx, time.Microsecond, 2))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.store.loops.Load())

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := f.store.Snapshot()
				if !assert.GreaterOrEqual(t, snap.Sequence, last) {
					return
				}
				last = snap.Sequence
				if snap.Sequence > 0 {
					assert.Equal(t, []int{20, 5}, pids(snap.Processes))
					assert.Equal(t, f.dir, snap.CurrentPath)
				}
			}
		}()
	}

	require.Eventually(t, func() bool {
		assert.NoError(t, f.store.Start(ctx, time.Microsecond, 2))
		return f.store.cycles.Load() >= 1000
	}, 60*time.Second, time.Millisecond)
	close(stop)
	readers.Wait()
	assert.Equal(t, int32(1), f.store.loops.Load())

	cancel()
	require.Eventually(t, func() bool { return !f.store.Running() && f.store.loops.Load() == 0 }, 5*time.Second, time.Millisecond)
}

func TestStartAgainAfterStop(t *testing.T) {
	f := newFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.store.Start(ctx, time.Millisecond, 3))
	require.Eventually(t, func() bool { return f.store.cycles.Load() > 0 }, 5*time.Second, time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return !f.store.Running() && f.store.loops.Load() == 0 }, 5*time.Second, time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	require.NoError(t, f.store.Start(ctx2, time.Millisecond, 3))
	start := f.store.cycles.Load()
	require.Eventually(t, func() bool { return f.store.cycles.Load() > start }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), f.store.loops.Load())
	cancel2()
	require.Eventually(t, func() bool { return f.store.loops.Load() == 0 }, 5*time.Second, time.Millisecond)
}

// gatedCollector holds its first Collect until release is closed.
type gatedCollector struct {
	Collector
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCollector) Collect(now time.Time, limit int) (model.GlobalMetrics, []model.ProcessRecord, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Collector.Collect(now, limit)
}

func TestStartAfterCancelMidCycleReplacesLoop(t *testing.T) {
	f := newFixture(t, 10)
	gate := &gatedCollector{Collector: f.store.collector, entered: make(chan struct{}), release: make(chan struct{})}
	f.store.collector = gate

	ctx1, cancel1 := context.WithCancel(context.Background())
	require.NoError(t, f.store.Start(ctx1, time.Millisecond, 3))
	<-gate.entered
	cancel1()

	ctx2, cancel2 := context.WithCancel(context.Background())
	require.NoError(t, f.store.Start(ctx2, time.Millisecond, 3))
	close(gate.release)

	require.Eventually(t, func() bool { return f.store.loops.Load() == 1 }, 5*time.Second, time.Millisecond)
	assert.True(t, f.store.Running(), "the replaced loop must not clear running")
	mark := f.store.cycles.Load()
	require.Eventually(t, func() bool { return f.store.cycles.Load() > mark+2 }, 5*time.Second, time.Millisecond)
	assert.True(t, f.store.Running())

	cancel2()
	require.Eventually(t, func() bool { return !f.store.Running() && f.store.loops.Load() == 0 }, 5*time.Second, time.Millisecond)
}
