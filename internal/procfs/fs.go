// Package procfs parses the Linux process information pseudo-filesystem.
//
// Every reader is stateless and returns a typed record or an error; callers
// decide how to degrade. Paths are resolved against FS.Root so the parsers
// can be pointed at a fixture tree.
package procfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/tklauser/go-sysconf"
)

// DefaultRoot is the conventional procfs mount point.
const DefaultRoot = "/proc"

// SectorSize is the unit of the sector counters in /proc/diskstats.
const SectorSize = 512

const (
	fallbackClockTicks = 100
	fallbackPageSize   = 4096
)

// ErrMalformed marks kernel data that did not have the expected shape.
var ErrMalformed = errors.New("procfs: malformed data")

// FS reads procfs files below Root.
type FS struct {
	Root string
}

// New returns an FS rooted at root, or DefaultRoot when root is empty.
func New(root string) FS {
	if root == "" {
		root = DefaultRoot
	}
	return FS{Root: root}
}

func (f FS) path(elem ...string) string {
	return filepath.Join(append([]string{f.Root}, elem...)...)
}

func (f FS) pidPath(pid int, name string) string {
	return f.path(strconv.Itoa(pid), name)
}

// IsGone reports whether err means the entity vanished between
// enumeration and read.
func IsGone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}

// PIDs lists the numeric directories under Root.
func (f FS) PIDs() ([]int, error) {
	entries, err := os.ReadDir(f.Root)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// HasProcess reports whether the process directory for pid exists.
func (f FS) HasProcess(pid int) bool {
	if pid <= 0 {
		return false
	}
	st, err := os.Stat(f.path(strconv.Itoa(pid)))
	return err == nil && st.IsDir()
}

var (
	sysOnce    sync.Once
	clockTicks int64
	pageSize   int64
)

func loadSysconf() {
	clockTicks = fallbackClockTicks
	if v, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && v > 0 {
		clockTicks = v
	}
	pageSize = fallbackPageSize
	if v := os.Getpagesize(); v > 0 {
		pageSize = int64(v)
	}
}

// ClockTicks returns the kernel's USER_HZ, the unit of the tick counters.
func ClockTicks() int64 {
	sysOnce.Do(loadSysconf)
	return clockTicks
}

// PageSize returns the memory page size in bytes.
func PageSize() int64 {
	sysOnce.Do(loadSysconf)
	return pageSize
}

// parseKB parses values like "1234 kB". Garbled input yields 0.
func parseKB(s string) uint64 {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.EqualFold(s[len(s)-2:], "kb") {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// splitKeyValue splits "Key:   value" lines.
func splitKeyValue(line string) (string, string, bool) {
	k, v, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}
