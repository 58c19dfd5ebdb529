package delta

import (
	"time"

	"github.com/Dicklesworthstone/procmon/internal/procfs"
)

// Engine owns every previous-sample table used by one poll loop.
type Engine struct {
	ProcCPU   *Counter // pid -> utime+stime ticks
	ProcRead  *Counter // pid -> read_bytes
	ProcWrite *Counter // pid -> write_bytes
	DiskRead  *Counter // device -> bytes read
	DiskWrite *Counter // device -> bytes written

	sysIdle  uint64
	sysTotal uint64
	sysValid bool

	lastPoll time.Time
}

// New returns an engine with empty tables.
func New() *Engine {
	return &Engine{
		ProcCPU:   NewCounter(),
		ProcRead:  NewCounter(),
		ProcWrite: NewCounter(),
		DiskRead:  NewCounter(),
		DiskWrite: NewCounter(),
	}
}

// CPUPercent returns used and idle percentages of the host CPU since the
// previous call. Without a usable previous aggregate, or when the total did
// not advance, it estimates from the current sample alone so the first
// reading is not a misleading 0%.
func (e *Engine) CPUPercent(t procfs.CPUTimes) (used, idle float64) {
	total, idleTicks := t.Total(), t.IdleTicks()
	if e.sysValid && total > e.sysTotal {
		dt := float64(total - e.sysTotal)
		var di float64
		if idleTicks > e.sysIdle {
			di = float64(idleTicks - e.sysIdle)
		}
		idle = Clamp(di/dt*100, 0, 100)
		used = 100 - idle
	} else if total > 0 {
		used = Clamp(float64(t.Busy())/float64(total)*100, 0, 100)
		idle = 100 - used
	}
	e.sysIdle, e.sysTotal, e.sysValid = idleTicks, total, total > 0
	return used, idle
}

// PollElapsed returns the floored wall time since the previous call and
// records now. The first call returns FloorInterval. Per-entity rates use
// Delta.Elapsed instead, since an entity can miss a poll.
func (e *Engine) PollElapsed(now time.Time) time.Duration {
	elapsed := FloorInterval
	if !e.lastPoll.IsZero() {
		elapsed = Floor(now.Sub(e.lastPoll))
	}
	e.lastPoll = now
	return elapsed
}

func (e *Engine) processTables() []*Counter {
	return []*Counter{e.ProcCPU, e.ProcRead, e.ProcWrite}
}

// ForgetProcess drops pid from every per-process table.
func (e *Engine) ForgetProcess(pid string) {
	for _, c := range e.processTables() {
		c.Forget(pid)
	}
}

// TrackedProcesses reports how many pids hold a CPU baseline.
func (e *Engine) TrackedProcesses() int { return e.ProcCPU.Len() }

// RetainProcesses evicts pids missing from observed and returns the number
// of entries removed across tables.
func (e *Engine) RetainProcesses(observed map[string]struct{}) int {
	var n int
	for _, c := range e.processTables() {
		n += c.Retain(observed)
	}
	return n
}

// RetainDisks evicts devices missing from observed.
func (e *Engine) RetainDisks(observed map[string]struct{}) int {
	return e.DiskRead.Retain(observed) + e.DiskWrite.Retain(observed)
}
