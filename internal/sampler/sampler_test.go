package sampler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Dicklesworthstone/procmon/internal/identity"
	"github.com/Dicklesworthstone/procmon/internal/model"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
	"github.com/Dicklesworthstone/procmon/internal/procfs/procfstest"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSampler(t *testing.T, tr *procfstest.Tree, key SortKey) *Sampler {
	t.Helper()
	passwd := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(passwd, []byte("root:x:0:0::/root:/bin/sh\nalice:x:1000:1000::/home/alice:/bin/sh\n"), 0o644))
	return New(Options{
		FS:         procfs.New(tr.Root),
		Users:      identity.New(passwd),
		Logger:     zaptest.NewLogger(t),
		SortKey:    key,
		CPUs:       2,
		ClockTicks: 100,
	})
}

func pidsOf(recs []model.ProcessRecord) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.PID
	}
	return out
}

func TestCollectOrdersByCumulativeCPUTime(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 1, Name: "five", UTime: 400, STime: 100})
	tr.AddProcess(procfstest.Process{PID: 2, Name: "twenty", UTime: 2000})
	tr.AddProcess(procfstest.Process{PID: 3, Name: "one", STime: 100})
	s := newSampler(t, tr, "")

	_, recs, err := s.Collect(t0, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []float64{20, 5}, []float64{recs[0].CPUTimeSeconds, recs[1].CPUTimeSeconds})
	assert.Equal(t, []int{2, 1}, pidsOf(recs))
}

func TestCollectProcessRates(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 10, Name: "db", UID: 1000, UTime: 100, RSSKB: 262144, Threads: 8, ReadBytes: 1000, WriteBytes: 0})
	s := newSampler(t, tr, "")

	_, recs, err := s.Collect(t0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Zero(t, recs[0].CPUPercent, "first sample has no baseline")
	assert.Zero(t, recs[0].IOReadBps)

	tr.AddProcess(procfstest.Process{PID: 10, Name: "db", UID: 1000, UTime: 150, STime: 50, RSSKB: 262144, Threads: 8, ReadBytes: 5000, WriteBytes: 2000})
	_, recs, err = s.Collect(t0.Add(2*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "db", r.Name)
	assert.Equal(t, "alice", r.Username)
	assert.Equal(t, 8, r.Threads)
	assert.InDelta(t, 50.0, r.CPUPercent, 1e-9) // 100 ticks = 1s over 2s
	assert.InDelta(t, 2.0, r.CPUTimeSeconds, 1e-9)
	assert.InDelta(t, 2000.0, r.IOReadBps, 1e-9)
	assert.InDelta(t, 1000.0, r.IOWriteBps, 1e-9)
	assert.InDelta(t, 256.0, r.MemoryMB, 1e-9)
	assert.InDelta(t, 25.0, r.MemoryPercent, 1e-9)
}

func TestCollectClampsCPUPercentToOnlineCPUs(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 10, Name: "spin"})
	s := newSampler(t, tr, "")
	_, _, err := s.Collect(t0, 10)
	require.NoError(t, err)

	tr.AddProcess(procfstest.Process{PID: 10, Name: "spin", UTime: 100000})
	_, recs, err := s.Collect(t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 200.0, recs[0].CPUPercent)
}

func TestCollectCounterResetIsNotNegative(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 10, Name: "x", UTime: 5000, ReadBytes: 9000})
	s := newSampler(t, tr, "")
	_, _, err := s.Collect(t0, 10)
	require.NoError(t, err)

	tr.AddProcess(procfstest.Process{PID: 10, Name: "x", UTime: 10, ReadBytes: 10})
	_, recs, err := s.Collect(t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Zero(t, recs[0].CPUPercent)
	assert.Zero(t, recs[0].IOReadBps)
}

func tracks(s *Sampler, pid string) bool {
	e := s.engine
	return e.ProcCPU.Has(pid) || e.ProcRead.Has(pid) || e.ProcWrite.Has(pid)
}

func TestCollectEvictsExitedProcesses(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 10, Name: "a"})
	tr.AddProcess(procfstest.Process{PID: 11, Name: "b"})
	s := newSampler(t, tr, "")
	_, _, err := s.Collect(t0, 10)
	require.NoError(t, err)
	require.True(t, tracks(s, "11"))

	tr.RemoveProcess(11)
	g, recs, err := s.Collect(t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, pidsOf(recs))
	assert.Equal(t, 1, g.ProcessCount)
	assert.False(t, tracks(s, "11"))
	assert.Equal(t, 1, s.engine.TrackedProcesses())
	assert.Equal(t, 1, s.engine.ProcRead.Len())
	assert.Equal(t, 1, s.engine.ProcWrite.Len())
}

func TestCollectDropsProcessVanishedMidRead(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 10, Name: "a"})
	tr.AddProcess(procfstest.Process{PID: 12, Name: "half"})
	s := newSampler(t, tr, "")
	_, _, err := s.Collect(t0, 10)
	require.NoError(t, err)
	require.True(t, tracks(s, "12"))

	require.NoError(t, os.Remove(filepath.Join(tr.Root, "12", "status")))
	_, recs, err := s.Collect(t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, pidsOf(recs))
	assert.False(t, tracks(s, "12"))
}

func TestCollectSkipsMalformedWithoutTouchingCache(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 10, Name: "a", UTime: 100})
	s := newSampler(t, tr, "")
	_, _, err := s.Collect(t0, 10)
	require.NoError(t, err)

	tr.WriteFile("10/stat", "10 (a) S garbage\n")
	g, recs, err := s.Collect(t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 1, g.ProcessCount)
	assert.True(t, s.engine.ProcCPU.Has("10"))

	tr.AddProcess(procfstest.Process{PID: 10, Name: "a", UTime: 300})
	_, recs, err = s.Collect(t0.Add(3*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	// baseline is still the first sample: 200 ticks over 3s since it was taken
	assert.InDelta(t, 200.0/3, recs[0].CPUPercent, 1e-9)
}

func TestCollectMissingIOIsRateZero(t *testing.T) {
	tr := procfstest.New(t)
	tr.AddProcess(procfstest.Process{PID: 2, Name: "kthreadd", NoIO: true, Threads: 1})
	s := newSampler(t, tr, "")
	for i := 0; i < 2; i++ {
		_, recs, err := s.Collect(t0.Add(time.Duration(i)*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Zero(t, recs[0].IOReadBps)
	}
	assert.False(t, s.engine.ProcRead.Has("2"))
}

func TestCollectGlobalMetrics(t *testing.T) {
	tr := procfstest.New(t)
	tr.SetMemInfo(1000, 250, 400, 100)
	tr.SetCPU(300, 100, 500, 100)
	tr.AddProcess(procfstest.Process{PID: 1, Name: "init", Threads: 1})
	tr.AddProcess(procfstest.Process{PID: 2, Name: "svc", Threads: 4})
	tr.SetDiskStats(map[string][2]uint64{
		"sda": {100, 200}, "sda1": {100, 200}, "nvme0n1": {10, 20}, "nvme0n1p1": {10, 20}, "loop0": {5, 5},
	})
	s := newSampler(t, tr, "")

	g, _, err := s.Collect(t0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, g.CPUUsedPct, 1e-9)
	assert.InDelta(t, 60.0, g.CPUIdlePct, 1e-9)
	assert.Equal(t, uint64(750), g.MemUsedKB)
	assert.InDelta(t, 75.0, g.MemUsedPct, 1e-9)
	assert.InDelta(t, 25.0, g.MemFreePct, 1e-9)
	assert.True(t, g.HasSwap)
	assert.Equal(t, uint64(300), g.SwapUsedKB)
	assert.InDelta(t, 75.0, g.SwapUsedPct, 1e-9)
	assert.Equal(t, 2, g.ProcessCount)
	assert.Equal(t, 5, g.ThreadCount)
	assert.Zero(t, g.DiskReadBps)

	tr.SetCPU(400, 100, 600, 100)
	tr.SetDiskStats(map[string][2]uint64{
		"sda": {300, 600}, "sda1": {9000, 9000}, "nvme0n1": {30, 20}, "nvme0n1p1": {9000, 9000}, "loop0": {9000, 9000},
	})
	g, _, err = s.Collect(t0.Add(2*time.Second), 10)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, g.CPUUsedPct, 1e-9)
	assert.InDelta(t, 50.0, g.CPUIdlePct, 1e-9)
	// only sda and nvme0n1 contribute: (200+20) sectors read over 2s
	assert.InDelta(t, 220.0*procfs.SectorSize/2, g.DiskReadBps, 1e-9)
	assert.InDelta(t, 400.0*procfs.SectorSize/2, g.DiskWriteBps, 1e-9)
	names := make([]string, 0, len(g.Disks))
	for _, d := range g.Disks {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"sda", "nvme0n1"}, names)
}

func TestCollectNoSwap(t *testing.T) {
	tr := procfstest.New(t)
	s := newSampler(t, tr, "")
	g, _, err := s.Collect(t0, 10)
	require.NoError(t, err)
	assert.False(t, g.HasSwap)
	assert.Zero(t, g.SwapUsedPct)
}

func TestCollectZeroMemTotalGivesZeroPercent(t *testing.T) {
	tr := procfstest.New(t)
	tr.SetMemInfo(0, 0, 0, 0)
	tr.AddProcess(procfstest.Process{PID: 1, Name: "init", RSSKB: 100})
	s := newSampler(t, tr, "")
	g, recs, err := s.Collect(t0, 10)
	require.NoError(t, err)
	assert.Zero(t, g.MemUsedPct)
	assert.Zero(t, g.MemFreePct)
	assert.Zero(t, recs[0].MemoryPercent)
}

func TestCollectWithoutProcfs(t *testing.T) {
	s := New(Options{FS: procfs.New(filepath.Join(t.TempDir(), "absent")), Logger: zaptest.NewLogger(t), CPUs: 1, ClockTicks: 100})
	g, recs, err := s.Collect(t0, 10)
	require.Error(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, model.GlobalMetrics{}, g)
}

func TestSortKeys(t *testing.T) {
	recs := []model.ProcessRecord{
		{PID: 3, CPUPercent: 1, MemoryMB: 30, CPUTimeSeconds: 2},
		{PID: 1, CPUPercent: 9, MemoryMB: 10, CPUTimeSeconds: 2},
		{PID: 2, CPUPercent: 5, MemoryMB: 20, CPUTimeSeconds: 7},
	}
	cases := map[SortKey][]int{
		SortCPUTime: {2, 1, 3},
		SortCPU:     {1, 2, 3},
		SortMemory:  {3, 2, 1},
		SortPID:     {1, 2, 3},
	}
	for key, want := range cases {
		got := append([]model.ProcessRecord(nil), recs...)
		sortRecords(got, key)
		assert.Equal(t, want, pidsOf(got), string(key))
	}
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortCPUTime, k)
	k, err = ParseSortKey("mem")
	require.NoError(t, err)
	assert.Equal(t, SortMemory, k)
	_, err = ParseSortKey("rss")
	assert.Error(t, err)
}
