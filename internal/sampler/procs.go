package sampler

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/procmon/internal/delta"
	"github.com/Dicklesworthstone/procmon/internal/model"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
)

const unknownUser = "N/A"

type outcome int

const (
	kept outcome = iota
	gone
	skipped
)

type processCounts struct {
	processes int
	threads   int
}

// processes scans every pid, updates the per-process delta tables and
// returns the top limit records in the configured order.
func (s *Sampler) processes(now time.Time, memTotalKB uint64, limit int) ([]model.ProcessRecord, processCounts, error) {
	var counts processCounts
	pids, err := s.fs.PIDs()
	if err != nil {
		return nil, counts, err
	}
	interval := s.engine.PollElapsed(now)

	observed := make(map[string]struct{}, len(pids))
	records := make([]model.ProcessRecord, 0, len(pids))
	for _, pid := range pids {
		id := strconv.Itoa(pid)
		rec, res := s.processRecord(pid, id, now, memTotalKB)
		switch res {
		case gone:
			s.engine.ForgetProcess(id)
			continue
		case skipped:
			observed[id] = struct{}{}
			counts.processes++
			continue
		}
		observed[id] = struct{}{}
		counts.processes++
		counts.threads += rec.Threads
		records = append(records, rec)
	}
	if n := s.engine.RetainProcesses(observed); n > 0 {
		s.log.Debug("evicted process state", zap.Int("entries", n))
	}
	s.log.Debug("process scan",
		zap.Duration("interval", interval),
		zap.Int("processes", counts.processes),
		zap.Int("tracked", s.engine.TrackedProcesses()))

	sortRecords(records, s.sortKey)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, counts, nil
}

func (s *Sampler) processRecord(pid int, id string, now time.Time, memTotalKB uint64) (model.ProcessRecord, outcome) {
	st, err := s.fs.ProcStat(pid)
	if err != nil {
		return model.ProcessRecord{}, s.failed(pid, "stat", err)
	}
	status, err := s.fs.ProcStatus(pid)
	if err != nil {
		return model.ProcessRecord{}, s.failed(pid, "status", err)
	}

	ticks := st.CPUTicks()
	rec := model.ProcessRecord{
		PID:            pid,
		Name:           st.Comm,
		Username:       s.username(status.UID),
		Threads:        status.Threads,
		CPUTimeSeconds: float64(ticks) / s.clockTicks,
		MemoryMB:       float64(status.VmRSS) / 1024,
		MemoryPercent:  delta.Percent(status.VmRSS, memTotalKB),
	}
	if rec.Threads == 0 {
		rec.Threads = st.Threads
	}
	// Rates use each counter's own elapsed time; a pid skipped for a cycle
	// keeps its older baseline.
	if d, ok := s.engine.ProcCPU.Observe(id, ticks, now); ok {
		rec.CPUPercent = delta.Clamp(d.PerSecond()/s.clockTicks*100, 0, float64(100*s.cpus))
	}

	pio, err := s.fs.ProcIO(pid)
	switch {
	case err == nil:
		if d, ok := s.engine.ProcRead.Observe(id, pio.ReadBytes, now); ok {
			rec.IOReadBps = d.PerSecond()
		}
		if d, ok := s.engine.ProcWrite.Observe(id, pio.WriteBytes, now); ok {
			rec.IOWriteBps = d.PerSecond()
		}
	case procfs.IsGone(err) && !s.fs.HasProcess(pid):
		return model.ProcessRecord{}, gone
	}
	return rec, kept
}

// failed classifies a required read error. Vanished processes are dropped
// silently; anything else is logged and the process sits this cycle out.
func (s *Sampler) failed(pid int, file string, err error) outcome {
	if procfs.IsGone(err) {
		return gone
	}
	s.log.Debug("skipping process",
		zap.Int("pid", pid),
		zap.String("file", file),
		zap.Error(err))
	return skipped
}

func (s *Sampler) username(uid int) string {
	if uid < 0 {
		return unknownUser
	}
	return s.users.Name(uid)
}
