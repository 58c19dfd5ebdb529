// Package fsinfo surveys mounted filesystems and lists directories.
package fsinfo

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Dicklesworthstone/procmon/internal/delta"
	"github.com/Dicklesworthstone/procmon/internal/identity"
	"github.com/Dicklesworthstone/procmon/internal/model"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
)

var ignoredFSTypes = map[string]bool{
	"sysfs": true, "proc": true, "devtmpfs": true, "tmpfs": true, "devpts": true,
	"debugfs": true, "securityfs": true, "fusectl": true, "cgroup": true, "cgroup2": true,
	"overlay": true, "autofs": true, "mqueue": true, "hugetlbfs": true, "pstore": true,
	"rpc_pipefs": true, "binfmt_misc": true, "none": true, "configfs": true,
	"tracefs": true, "bpf": true, "nsfs": true, "squashfs": true, "ramfs": true,
}

var ignoredMountPrefixes = []string{
	"/sys", "/proc", "/dev", "/run", "/var/lib/docker", "/snap",
	"/etc/resolv.conf", "/etc/hostname", "/etc/hosts",
}

// Usage is the block accounting of one filesystem in bytes.
type Usage struct {
	Total uint64
	Free  uint64 // available to unprivileged users
}

// StatFunc reports usage for a mount point.
type StatFunc func(path string) (Usage, error)

// Statfs queries the kernel with statfs(2).
func Statfs(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, err
	}
	bsize := uint64(st.Frsize)
	if bsize == 0 {
		bsize = uint64(st.Bsize)
	}
	return Usage{Total: st.Blocks * bsize, Free: st.Bavail * bsize}, nil
}

// Surveyor produces FilesystemInfo and DirectoryListing values.
type Surveyor struct {
	fs    procfs.FS
	users *identity.Cache
	stat  StatFunc
	log   *zap.Logger
	now   func() time.Time

	readDir func(string) ([]os.DirEntry, error)
}

// Options configures a Surveyor.
type Options struct {
	FS     procfs.FS
	Users  *identity.Cache
	Stat   StatFunc
	Logger *zap.Logger
}

// New returns a Surveyor; nil options fall back to the host.
func New(opts Options) *Surveyor {
	if opts.FS.Root == "" {
		opts.FS = procfs.New("")
	}
	if opts.Users == nil {
		opts.Users = identity.New("")
	}
	if opts.Stat == nil {
		opts.Stat = Statfs
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Surveyor{
		fs:      opts.FS,
		users:   opts.Users,
		stat:    opts.Stat,
		log:     opts.Logger,
		now:     time.Now,
		readDir: os.ReadDir,
	}
}

// Partitions scans the mount table. Pseudo filesystems, runtime mount
// points and filesystems reporting no capacity are left out.
func (s *Surveyor) Partitions() (model.FilesystemInfo, error) {
	info := model.FilesystemInfo{UpdatedAt: s.now()}
	mounts, err := s.fs.Mounts()
	if err != nil {
		return info, err
	}
	for _, m := range mounts {
		if !dataMount(m) {
			continue
		}
		u, err := s.stat(m.MountPoint)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission) {
				s.log.Debug("statfs failed", zap.String("mount", m.MountPoint), zap.Error(err))
			}
			continue
		}
		if u.Total == 0 {
			continue
		}
		free := u.Free
		if free > u.Total {
			free = u.Total
		}
		used := u.Total - free
		info.Partitions = append(info.Partitions, model.Partition{
			Device:       m.Device,
			MountPoint:   m.MountPoint,
			FSType:       m.FSType,
			TotalKB:      float64(u.Total) / 1024,
			UsedKB:       float64(used) / 1024,
			FreeKB:       float64(free) / 1024,
			UsagePercent: delta.Percent(used, u.Total),
		})
	}
	return info, nil
}

func dataMount(m procfs.Mount) bool {
	if ignoredFSTypes[m.FSType] {
		return false
	}
	for _, p := range ignoredMountPrefixes {
		if m.MountPoint == p || strings.HasPrefix(m.MountPoint, p+"/") {
			return false
		}
	}
	return strings.HasPrefix(m.Device, "/dev") || m.Device == "rootfs"
}
