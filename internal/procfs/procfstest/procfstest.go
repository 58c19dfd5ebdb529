// Package procfstest builds fake procfs trees for tests.
package procfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Tree is a writable fixture rooted in a test temp directory.
type Tree struct {
	t    testing.TB
	Root string
}

// New creates an empty tree with a minimal stat and meminfo.
func New(t testing.TB) *Tree {
	t.Helper()
	tr := &Tree{t: t, Root: t.TempDir()}
	tr.SetCPU(0, 0, 0, 0)
	tr.SetMemInfo(1024*1024, 512*1024, 0, 0)
	tr.WriteFile("diskstats", "")
	tr.WriteFile("mounts", "")
	return tr
}

// WriteFile writes content at rel below Root, creating parents.
func (tr *Tree) WriteFile(rel, content string) {
	tr.t.Helper()
	p := filepath.Join(tr.Root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tr.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		tr.t.Fatal(err)
	}
}

// SetCPU rewrites /proc/stat with the given aggregate ticks and a fixed btime.
func (tr *Tree) SetCPU(user, system, idle, iowait uint64) {
	tr.t.Helper()
	tr.WriteFile("stat", fmt.Sprintf(
		"cpu  %d 0 %d %d %d 0 0 0 0 0\ncpu0 %d 0 %d %d %d 0 0 0 0 0\nintr 0\nbtime 1700000000\nprocesses 1\n",
		user, system, idle, iowait, user, system, idle, iowait))
}

// SetMemInfo rewrites /proc/meminfo. Values are KiB.
func (tr *Tree) SetMemInfo(total, available, swapTotal, swapFree uint64) {
	tr.t.Helper()
	tr.WriteFile("meminfo", fmt.Sprintf(
		"MemTotal:       %d kB\nMemFree:        %d kB\nMemAvailable:   %d kB\nBuffers:        0 kB\nSwapTotal:      %d kB\nSwapFree:       %d kB\n",
		total, available/2, available, swapTotal, swapFree))
}

// Process describes a fake /proc/<pid>.
type Process struct {
	PID       int
	Name      string
	UID       int
	UTime     uint64
	STime     uint64
	Nice      int
	Threads   int
	StartTime uint64
	RSSKB     uint64
	// ReadBytes and WriteBytes are written to io unless NoIO is set.
	ReadBytes  uint64
	WriteBytes uint64
	NoIO       bool
}

// AddProcess writes stat, status and io for p.
func (tr *Tree) AddProcess(p Process) {
	tr.t.Helper()
	if p.Threads == 0 {
		p.Threads = 1
	}
	dir := strconv.Itoa(p.PID)
	fields := make([]string, 50)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "S"
	set := func(n int, v string) { fields[n-3] = v }
	set(14, strconv.FormatUint(p.UTime, 10))
	set(15, strconv.FormatUint(p.STime, 10))
	set(18, strconv.Itoa(20+p.Nice))
	set(19, strconv.Itoa(p.Nice))
	set(20, strconv.Itoa(p.Threads))
	set(22, strconv.FormatUint(p.StartTime, 10))
	tr.WriteFile(filepath.Join(dir, "stat"),
		fmt.Sprintf("%d (%s) %s\n", p.PID, p.Name, strings.Join(fields, " ")))

	tr.WriteFile(filepath.Join(dir, "status"), fmt.Sprintf(
		"Name:\t%s\nState:\tS (sleeping)\nUid:\t%d\t%d\t%d\t%d\nVmSize:\t%d kB\nVmRSS:\t%d kB\nRssShmem:\t4 kB\nVmData:\t64 kB\nVmStk:\t132 kB\nVmExe:\t8 kB\nThreads:\t%d\n",
		p.Name, p.UID, p.UID, p.UID, p.UID, p.RSSKB*2, p.RSSKB, p.Threads))

	if !p.NoIO {
		tr.WriteFile(filepath.Join(dir, "io"), fmt.Sprintf(
			"rchar: 0\nwchar: 0\nsyscr: 0\nsyscw: 0\nread_bytes: %d\nwrite_bytes: %d\ncancelled_write_bytes: 0\n",
			p.ReadBytes, p.WriteBytes))
	}
}

// RemoveProcess deletes /proc/<pid>.
func (tr *Tree) RemoveProcess(pid int) {
	tr.t.Helper()
	if err := os.RemoveAll(filepath.Join(tr.Root, strconv.Itoa(pid))); err != nil {
		tr.t.Fatal(err)
	}
}

// SetDiskStats writes /proc/diskstats with one line per device.
func (tr *Tree) SetDiskStats(devices map[string][2]uint64) {
	tr.t.Helper()
	var b strings.Builder
	minor := 0
	for name, v := range devices {
		fmt.Fprintf(&b, "   8 %d %s 100 0 %d 50 200 0 %d 80 0 120 130 0 0 0 0\n", minor, name, v[0], v[1])
		minor++
	}
	tr.WriteFile("diskstats", b.String())
}
