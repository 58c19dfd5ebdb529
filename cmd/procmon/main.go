// Command procmon is a terminal dashboard for Linux host and process metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/procmon/internal/config"
	"github.com/Dicklesworthstone/procmon/internal/fsinfo"
	"github.com/Dicklesworthstone/procmon/internal/identity"
	"github.com/Dicklesworthstone/procmon/internal/logging"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
	"github.com/Dicklesworthstone/procmon/internal/sampler"
	"github.com/Dicklesworthstone/procmon/internal/store"
	"github.com/Dicklesworthstone/procmon/internal/ui"
)

var errNotFound = errors.New("not found")

func main() {
	err := run(os.Args[1:], os.Stdout)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	default:
		fmt.Fprintln(os.Stderr, "procmon:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cfg, err := config.FromFlags(args)
	if err != nil {
		return err
	}

	logFile := cfg.LogFile
	if logFile == "" && !cfg.JSON && cfg.PID == 0 {
		logFile = filepath.Join(os.TempDir(), "procmon.log")
	}
	log, err := logging.New(cfg.LogLevel, logFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := newStore(cfg, log)
	if err != nil {
		return err
	}

	switch {
	case cfg.JSON:
		return printSnapshot(st, cfg.Interval, log, stdout)
	case cfg.PID != 0:
		return printDetail(st, cfg.PID, cfg.Interval, log, stdout)
	}

	if f, ok := stdout.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return errors.New("dashboard needs a terminal; use -json or -pid")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := st.Start(ctx, cfg.Interval, cfg.Limit); err != nil {
		return err
	}
	return ui.RunTUI(st)
}

func newStore(cfg config.Config, log *zap.Logger) (*store.Store, error) {
	fs := procfs.New(cfg.ProcRoot)
	users := identity.New(cfg.Passwd)
	smp := sampler.New(sampler.Options{
		FS:      fs,
		Users:   users,
		Logger:  log.Named("sampler"),
		SortKey: cfg.SortKey(),
	})
	srv := fsinfo.New(fsinfo.Options{FS: fs, Users: users, Logger: log.Named("fsinfo")})
	return store.New(store.Options{
		Collector: smp,
		Surveyor:  srv,
		Logger:    log.Named("store"),
		Directory: cfg.Directory,
		Limit:     cfg.Limit,
	})
}

// warmUp runs two cycles one interval apart so rates are populated.
// Partial cycle failures are logged; the snapshot still carries the rest.
func warmUp(st *store.Store, interval time.Duration, log *zap.Logger) {
	for i := 0; i < 2; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		if err := st.Refresh(); err != nil {
			log.Warn("cycle incomplete", zap.Error(err))
		}
	}
}

func printSnapshot(st *store.Store, interval time.Duration, log *zap.Logger, w io.Writer) error {
	warmUp(st, interval, log)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st.Snapshot())
}

func printDetail(st *store.Store, pid int, interval time.Duration, log *zap.Logger, w io.Writer) error {
	warmUp(st, interval, log)
	d, ok := st.ProcessDetails(pid)
	if !ok {
		return fmt.Errorf("process %d: %w", pid, errNotFound)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
