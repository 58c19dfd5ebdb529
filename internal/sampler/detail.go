package sampler

import (
	"errors"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/procmon/internal/delta"
	"github.com/Dicklesworthstone/procmon/internal/model"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
)

// PriorityLabel describes a nice value the way the dashboard shows it.
func PriorityLabel(nice int) string {
	switch {
	case nice < -20 || nice > 19:
		return "unknown"
	case nice <= -15:
		return "very high"
	case nice <= -1:
		return "high"
	case nice == 0:
		return "normal"
	case nice <= 10:
		return "low"
	}
	return "very low"
}

// Detail reads everything known about pid. ok is false when the process
// does not exist or its status file cannot be read. Rates are left zero;
// they only exist relative to the poll loop's previous sample.
func (s *Sampler) Detail(pid int) (model.ProcessDetail, bool) {
	if !s.fs.HasProcess(pid) {
		return model.ProcessDetail{}, false
	}
	status, err := s.fs.ProcStatus(pid)
	if err != nil {
		if !procfs.IsGone(err) {
			s.log.Debug("process detail: status unreadable", zap.Int("pid", pid), zap.Error(err))
		}
		return model.ProcessDetail{}, false
	}

	d := model.ProcessDetail{
		State:         status.State,
		PriorityLabel: "unknown",
		RSSKB:         status.VmRSS,
		VirtualKB:     status.VmSize,
		CodeKB:        status.VmExe,
		DataKB:        status.VmData,
		StackKB:       status.VmStk,
		SharedKB:      status.RssShm,
		WritableKB:    status.VmData,
	}
	d.PID = pid
	d.Name = status.Name
	d.Username = s.username(status.UID)
	d.Threads = status.Threads
	d.MemoryMB = float64(status.VmRSS) / 1024

	page := uint64(procfs.PageSize())
	d.ResidentPages = status.VmRSS * 1024 / page
	d.VirtualPages = status.VmSize * 1024 / page
	d.CodePages = status.VmExe * 1024 / page
	d.DataPages = status.VmData * 1024 / page
	d.StackPages = status.VmStk * 1024 / page

	if mi, err := s.fs.MemInfo(); err == nil {
		d.MemoryPercent = delta.Percent(status.VmRSS, mi.MemTotal)
	}

	if st, err := s.fs.ProcStat(pid); err != nil {
		s.log.Debug("process detail: stat unreadable", zap.Int("pid", pid), zap.Error(err))
	} else {
		if d.Name == "" {
			d.Name = st.Comm
		}
		if d.Threads == 0 {
			d.Threads = st.Threads
		}
		d.Nice = st.Nice
		d.Priority = st.Priority
		d.PriorityLabel = PriorityLabel(st.Nice)
		d.CPUTimeSeconds = float64(st.CPUTicks()) / s.clockTicks
		d.StartedAfterBoot = time.Duration(float64(st.StartTime) / s.clockTicks * float64(time.Second))
		if boot, err := s.fs.BootTime(); err == nil {
			d.StartedAt = boot.Add(d.StartedAfterBoot)
		}
	}

	fds, err := s.fs.ProcFDs(pid)
	switch {
	case err == nil:
		d.OpenResources = fds
	case errors.Is(err, fs.ErrPermission):
	default:
		s.log.Debug("process detail: fd list unreadable", zap.Int("pid", pid), zap.Error(err))
	}
	return d, true
}
