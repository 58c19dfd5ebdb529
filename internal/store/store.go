// Package store owns the published snapshot and the poll loop that
// refreshes it.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/procmon/internal/fsinfo"
	"github.com/Dicklesworthstone/procmon/internal/model"
)

var (
	ErrInvalidLimit    = errors.New("process limit must be positive")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Collector produces the per-cycle metrics and on-demand process detail.
type Collector interface {
	Collect(now time.Time, limit int) (model.GlobalMetrics, []model.ProcessRecord, error)
	Detail(pid int) (model.ProcessDetail, bool)
}

// Surveyor produces filesystem and directory information.
type Surveyor interface {
	Partitions() (model.FilesystemInfo, error)
	ListDirectory(path string) (model.DirectoryListing, error)
}

// Options configures a Store.
type Options struct {
	Collector Collector
	Surveyor  Surveyor
	Logger    *zap.Logger
	Directory string
	Limit     int
	// ValidateDirectory overrides fsinfo.ValidateDirectory.
	ValidateDirectory func(string) error
	Now               func() time.Time
}

// Store publishes snapshots built by a single poll loop. Any number of
// goroutines may read concurrently with the loop.
type Store struct {
	collector Collector
	surveyor  Surveyor
	log       *zap.Logger
	validate  func(string) error
	now       func() time.Time

	// cycleMu serializes cycles; the delta tables behind collector are
	// only touched while it is held.
	cycleMu sync.Mutex
	seq     uint64

	mu      sync.RWMutex
	snap    model.Snapshot
	limit   int
	dir     string
	running bool
	loopCtx context.Context
	gen     uint64 // bumped by every Start that spawns a loop

	loops  atomic.Int32  // live loop goroutines
	cycles atomic.Uint64 // published cycles
}

// New returns a stopped Store holding an empty snapshot.
func New(opts Options) (*Store, error) {
	if opts.Collector == nil || opts.Surveyor == nil {
		return nil, errors.New("store: collector and surveyor are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ValidateDirectory == nil {
		opts.ValidateDirectory = fsinfo.ValidateDirectory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Limit == 0 {
		opts.Limit = 10
	}
	if opts.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	if opts.Directory == "" {
		opts.Directory = "/"
	}
	dir := filepath.Clean(opts.Directory)
	if err := opts.ValidateDirectory(dir); err != nil {
		return nil, fmt.Errorf("store: initial directory: %w", err)
	}
	return &Store{
		collector: opts.Collector,
		surveyor:  opts.Surveyor,
		log:       opts.Logger,
		validate:  opts.ValidateDirectory,
		now:       opts.Now,
		snap:      model.Zero(dir),
		limit:     opts.Limit,
		dir:       dir,
	}, nil
}

// Start launches the poll loop. Calling it while a loop runs on a live
// context only updates the process limit. A loop whose context is already
// done is replaced even if it is still finishing a cycle. The loop stops
// when ctx is done.
func (s *Store) Start(ctx context.Context, interval time.Duration, limit int) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if limit <= 0 {
		return ErrInvalidLimit
	}
	s.mu.Lock()
	s.limit = limit
	if s.running && s.loopCtx.Err() == nil {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.running = true
	s.loopCtx = ctx
	s.mu.Unlock()

	alive := s.loops.Add(1)
	go s.loop(ctx, interval, gen)
	s.log.Info("poll loop started",
		zap.Duration("interval", interval),
		zap.Int("limit", limit),
		zap.Uint64("generation", gen),
		zap.Int32("loops", alive))
	return nil
}

func (s *Store) loop(ctx context.Context, interval time.Duration, gen uint64) {
	defer func() {
		s.log.Info("poll loop stopped", zap.Uint64("generation", gen))
		s.mu.Lock()
		// a newer generation keeps running set
		if s.gen == gen {
			s.running = false
		}
		s.mu.Unlock()
		s.loops.Add(-1)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(); err != nil {
			s.log.Warn("poll cycle incomplete", zap.Uint64("cycles", s.cycles.Load()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh runs one collection cycle and publishes the result. Partial
// failures are returned but the cycle still publishes; a panic leaves the
// previous snapshot in place.
func (s *Store) Refresh() (err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("poll cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
	}()

	s.mu.RLock()
	limit, dir := s.limit, s.dir
	s.mu.RUnlock()

	now := s.now()
	global, procs, err := s.collector.Collect(now, limit)

	var (
		fsInfo  model.FilesystemInfo
		listing model.DirectoryListing
	)
	var g errgroup.Group
	g.Go(func() error {
		info, err := s.surveyor.Partitions()
		fsInfo = info
		if err != nil {
			return fmt.Errorf("filesystems: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		l, err := s.surveyor.ListDirectory(dir)
		if err != nil {
			s.log.Warn("directory listing failed", zap.String("path", dir), zap.Error(err))
			if l.Err == "" {
				l.Err = err.Error()
			}
		}
		listing = l
		return nil
	})
	err = multierr.Append(err, g.Wait())

	s.seq++
	next := model.Snapshot{
		Sequence:    s.seq,
		SampledAt:   now,
		Global:      global,
		Processes:   procs,
		Filesystem:  fsInfo,
		Directory:   listing,
		CurrentPath: dir,
	}
	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
	s.cycles.Add(1)
	return err
}

// Snapshot returns an independent copy of the latest published state.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// SetProcessLimit changes how many processes the next cycle keeps.
func (s *Store) SetProcessLimit(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
	return nil
}

// ProcessLimit reports the limit the next cycle will apply.
func (s *Store) ProcessLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

// SetCurrentDirectory commits path for the next cycle if it is a directory.
// On error the current directory is unchanged.
func (s *Store) SetCurrentDirectory(path string) error {
	path = filepath.Clean(path)
	if err := s.validate(path); err != nil {
		return err
	}
	s.mu.Lock()
	s.dir = path
	s.mu.Unlock()
	return nil
}

// CurrentDirectory reports the committed directory, which may be newer than
// the latest snapshot's CurrentPath.
func (s *Store) CurrentDirectory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// ProcessDetails reads pid fresh and fills in the rates from the latest
// snapshot when pid is part of it.
func (s *Store) ProcessDetails(pid int) (model.ProcessDetail, bool) {
	d, ok := s.collector.Detail(pid)
	if !ok {
		return model.ProcessDetail{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.snap.Processes {
		if p.PID == pid {
			d.CPUPercent = p.CPUPercent
			d.IOReadBps = p.IOReadBps
			d.IOWriteBps = p.IOWriteBps
			break
		}
	}
	return d.Clone(), true
}

// Running reports whether the poll loop is active.
func (s *Store) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
