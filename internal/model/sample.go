package model

import "time"

// GlobalMetrics aggregates host-wide usage for one poll.
type GlobalMetrics struct {
	CPUUsedPct float64 // percent 0-100
	CPUIdlePct float64

	MemTotalKB uint64
	MemUsedKB  uint64
	MemUsedPct float64
	MemFreePct float64

	// HasSwap is false when the host has no swap configured.
	HasSwap     bool
	SwapTotalKB uint64
	SwapUsedKB  uint64
	SwapUsedPct float64

	ProcessCount int
	ThreadCount  int

	DiskReadBps  float64
	DiskWriteBps float64
	Disks        []DiskDevice
}

// DiskDevice captures per-block-device throughput in bytes per second.
type DiskDevice struct {
	Name     string
	ReadBps  float64
	WriteBps float64
}

// ProcessRecord is one row of the process table.
type ProcessRecord struct {
	PID            int
	Name           string
	Username       string
	Threads        int
	CPUPercent     float64
	CPUTimeSeconds float64
	MemoryMB       float64
	MemoryPercent  float64
	IOReadBps      float64
	IOWriteBps     float64
}

// ResourceKind classifies an open file descriptor target.
type ResourceKind string

const (
	ResourceFile      ResourceKind = "file"
	ResourceSocket    ResourceKind = "socket"
	ResourcePipe      ResourceKind = "pipe"
	ResourceAnonInode ResourceKind = "anon-inode"
	ResourceDevice    ResourceKind = "device"
	ResourceDirectory ResourceKind = "directory"
	ResourceSymlink   ResourceKind = "symlink"
	ResourceUnknown   ResourceKind = "unknown"
)

// OpenResource is one entry of /proc/<pid>/fd.
type OpenResource struct {
	FD     int
	Target string
	Kind   ResourceKind
}

// ProcessDetail is the on-demand view of a single process.
type ProcessDetail struct {
	ProcessRecord

	State            string
	StartedAt        time.Time // zero when boot time is unknown
	StartedAfterBoot time.Duration
	Nice             int
	Priority         int
	PriorityLabel    string

	RSSKB     uint64
	VirtualKB uint64
	CodeKB    uint64
	DataKB    uint64
	StackKB   uint64
	SharedKB  uint64
	// WritableKB mirrors VmData, the private writable mappings.
	WritableKB uint64

	ResidentPages uint64
	VirtualPages  uint64
	CodePages     uint64
	DataPages     uint64
	StackPages    uint64

	OpenResources []OpenResource
}

// Partition is a mounted filesystem with usage in KiB.
type Partition struct {
	Device       string
	MountPoint   string
	FSType       string
	TotalKB      float64
	UsedKB       float64
	FreeKB       float64
	UsagePercent float64
}

// FilesystemInfo is the result of one mount-table survey.
type FilesystemInfo struct {
	Partitions []Partition
	UpdatedAt  time.Time
}

// EntryStatus reports whether a directory entry could be inspected.
type EntryStatus string

const (
	EntryOK               EntryStatus = "ok"
	EntryNotFound         EntryStatus = "not-found"
	EntryPermissionDenied EntryStatus = "permission-denied"
	EntryError            EntryStatus = "error"
)

// DirectoryEntry describes one child of a listed directory.
type DirectoryEntry struct {
	Name       string
	Type       string
	Status     EntryStatus
	Size       int64
	HasSize    bool // only regular files carry a size
	PermOctal  string
	PermString string
	ModTime    time.Time
	Owner      string
	Path       string
}

// DirectoryListing is the content of a single directory.
type DirectoryListing struct {
	Path    string
	Entries []DirectoryEntry
	// Err is set when the directory itself could not be read.
	Err string
}

// Snapshot is the full state published by the store.
type Snapshot struct {
	Sequence    uint64
	SampledAt   time.Time
	Global      GlobalMetrics
	Processes   []ProcessRecord
	Filesystem  FilesystemInfo
	Directory   DirectoryListing
	CurrentPath string
}

// Zero returns an empty snapshot for initialization.
func Zero(path string) Snapshot {
	return Snapshot{CurrentPath: path, Directory: DirectoryListing{Path: path}}
}

// Clone returns a copy that shares no backing arrays with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Global.Disks = cloneSlice(s.Global.Disks)
	out.Processes = cloneSlice(s.Processes)
	out.Filesystem.Partitions = cloneSlice(s.Filesystem.Partitions)
	out.Directory.Entries = cloneSlice(s.Directory.Entries)
	return out
}

// Clone returns a copy with its own OpenResources slice.
func (d ProcessDetail) Clone() ProcessDetail {
	out := d
	out.OpenResources = cloneSlice(d.OpenResources)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
