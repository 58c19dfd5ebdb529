package sampler

import (
	"fmt"
	"time"

	"github.com/tklauser/numcpus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/procmon/internal/delta"
	"github.com/Dicklesworthstone/procmon/internal/identity"
	"github.com/Dicklesworthstone/procmon/internal/model"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
)

// Options configures a Sampler. Zero values pick the host defaults.
type Options struct {
	FS      procfs.FS
	Users   *identity.Cache
	Logger  *zap.Logger
	SortKey SortKey
	// CPUs bounds per-process CPU percent at CPUs*100.
	CPUs int
	// ClockTicks is the unit of the tick counters (USER_HZ).
	ClockTicks int64
}

// Sampler builds global metrics and the process table from procfs reads.
// Collect must only be called from a single goroutine; Detail may be
// called concurrently with it.
type Sampler struct {
	fs         procfs.FS
	users      *identity.Cache
	engine     *delta.Engine
	log        *zap.Logger
	sortKey    SortKey
	cpus       int
	clockTicks float64
}

// New returns a Sampler with a fresh delta engine.
func New(opts Options) *Sampler {
	if opts.FS.Root == "" {
		opts.FS = procfs.New("")
	}
	if opts.Users == nil {
		opts.Users = identity.New("")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SortKey == "" {
		opts.SortKey = SortCPUTime
	}
	if opts.CPUs <= 0 {
		if n, err := numcpus.GetOnline(); err == nil && n > 0 {
			opts.CPUs = n
		} else {
			opts.CPUs = 1
		}
	}
	if opts.ClockTicks <= 0 {
		opts.ClockTicks = procfs.ClockTicks()
	}
	return &Sampler{
		fs:         opts.FS,
		users:      opts.Users,
		engine:     delta.New(),
		log:        opts.Logger,
		sortKey:    opts.SortKey,
		cpus:       opts.CPUs,
		clockTicks: float64(opts.ClockTicks),
	}
}

// Collect samples every metric family once. Each family that fails keeps
// its zero values and contributes to the returned error; the other
// families are still filled in.
func (s *Sampler) Collect(now time.Time, limit int) (model.GlobalMetrics, []model.ProcessRecord, error) {
	var (
		g    model.GlobalMetrics
		errs error
	)

	if ct, err := s.fs.CPUTimes(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("cpu: %w", err))
	} else {
		g.CPUUsedPct, g.CPUIdlePct = s.engine.CPUPercent(ct)
	}

	if mi, err := s.fs.MemInfo(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("memory: %w", err))
	} else {
		fillMemory(&g, mi)
	}

	if err := s.collectDisks(&g, now); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("disks: %w", err))
	}

	procs, counts, err := s.processes(now, g.MemTotalKB, limit)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("processes: %w", err))
	}
	g.ProcessCount, g.ThreadCount = counts.processes, counts.threads

	return g, procs, errs
}

func fillMemory(g *model.GlobalMetrics, mi procfs.MemInfo) {
	g.MemTotalKB = mi.MemTotal
	avail := mi.MemAvailable
	if avail > mi.MemTotal {
		avail = mi.MemTotal
	}
	g.MemUsedKB = mi.MemTotal - avail
	g.MemUsedPct = delta.Percent(g.MemUsedKB, mi.MemTotal)
	g.MemFreePct = delta.Percent(avail, mi.MemTotal)

	if mi.SwapTotal == 0 {
		return
	}
	g.HasSwap = true
	g.SwapTotalKB = mi.SwapTotal
	if mi.SwapFree < mi.SwapTotal {
		g.SwapUsedKB = mi.SwapTotal - mi.SwapFree
	}
	g.SwapUsedPct = delta.Percent(g.SwapUsedKB, mi.SwapTotal)
}

func (s *Sampler) collectDisks(g *model.GlobalMetrics, now time.Time) error {
	stats, skipped, err := s.fs.DiskStats()
	if err != nil {
		return err
	}
	if skipped > 0 {
		s.log.Debug("skipped malformed diskstats lines", zap.Int("lines", skipped))
	}
	observed := make(map[string]struct{}, len(stats))
	for _, d := range stats {
		if !procfs.IsWholeDisk(d.Name) {
			continue
		}
		observed[d.Name] = struct{}{}
		dev := model.DiskDevice{
			Name:     d.Name,
			ReadBps:  s.engine.DiskRead.Rate(d.Name, d.ReadBytes(), now),
			WriteBps: s.engine.DiskWrite.Rate(d.Name, d.WriteBytes(), now),
		}
		g.DiskReadBps += dev.ReadBps
		g.DiskWriteBps += dev.WriteBps
		g.Disks = append(g.Disks, dev)
	}
	if n := s.engine.RetainDisks(observed); n > 0 {
		s.log.Debug("evicted disk state", zap.Int("entries", n))
	}
	return nil
}
