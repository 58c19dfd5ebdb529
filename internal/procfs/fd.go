package procfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/procmon/internal/model"
)

const (
	tagPermissionDenied = "[permission denied]"
	tagUnreadable       = "[unreadable]"
)

// ProcFDs lists the open descriptors of pid ordered by descriptor number.
// Descriptors closed while the directory is walked are left out.
func (f FS) ProcFDs(pid int) ([]model.OpenResource, error) {
	dir := f.pidPath(pid, "fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]model.OpenResource, 0, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		switch {
		case err == nil:
			out = append(out, model.OpenResource{FD: fd, Target: target, Kind: ClassifyTarget(target)})
		case IsGone(err):
		case errors.Is(err, fs.ErrPermission):
			out = append(out, model.OpenResource{FD: fd, Target: tagPermissionDenied, Kind: model.ResourceUnknown})
		default:
			out = append(out, model.OpenResource{FD: fd, Target: tagUnreadable, Kind: model.ResourceUnknown})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FD < out[j].FD })
	return out, nil
}

// ClassifyTarget maps a /proc/<pid>/fd link target to a resource kind.
// Synthetic targets are recognised by prefix; paths are inspected with lstat.
func ClassifyTarget(target string) model.ResourceKind {
	switch {
	case strings.HasPrefix(target, "socket:"):
		return model.ResourceSocket
	case strings.HasPrefix(target, "pipe:"):
		return model.ResourcePipe
	case strings.HasPrefix(target, "anon_inode:"):
		return model.ResourceAnonInode
	case strings.HasPrefix(target, "/dev/"):
		return model.ResourceDevice
	case target == "/":
		return model.ResourceDirectory
	case !strings.HasPrefix(target, "/"):
		return model.ResourceUnknown
	}
	st, err := os.Lstat(target)
	if err != nil {
		// deleted or not visible from our mount namespace
		return model.ResourceFile
	}
	switch mode := st.Mode(); {
	case mode.IsDir():
		return model.ResourceDirectory
	case mode&fs.ModeNamedPipe != 0:
		return model.ResourcePipe
	case mode&fs.ModeSocket != 0:
		return model.ResourceSocket
	case mode&fs.ModeSymlink != 0:
		return model.ResourceSymlink
	case mode&fs.ModeDevice != 0:
		return model.ResourceDevice
	}
	return model.ResourceFile
}
