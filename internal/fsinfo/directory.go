package fsinfo

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Dicklesworthstone/procmon/internal/model"
)

// ErrNotDirectory is returned for paths that exist but are not directories.
var ErrNotDirectory = errors.New("not a directory")

// Entry types reported in DirectoryEntry.Type.
const (
	TypeRegular     = "file"
	TypeDirectory   = "directory"
	TypeSymlink     = "symlink"
	TypeCharDevice  = "char-device"
	TypeBlockDevice = "block-device"
	TypeFIFO        = "fifo"
	TypeSocket      = "socket"
	TypeUnknown     = "unknown"
)

// ValidateDirectory returns nil when path resolves to a directory the
// process can open.
func ValidateDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("validate directory: empty path")
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("validate directory %s: %w", path, err)
	}
	if uint32(st.Mode)&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("validate directory %s: %w", path, ErrNotDirectory)
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return fmt.Errorf("validate directory %s: %w", path, err)
	}
	return nil
}

// ListDirectory enumerates the immediate children of path, sorted by name.
// An entry that cannot be inspected keeps its name and path and carries a
// non-ok Status. A read that fails part way keeps the entries it got and
// records the failure in Err.
func (s *Surveyor) ListDirectory(path string) (model.DirectoryListing, error) {
	path = filepath.Clean(path)
	listing := model.DirectoryListing{Path: path}
	if err := ValidateDirectory(path); err != nil {
		listing.Err = err.Error()
		return listing, err
	}
	dirents, err := s.readDir(path)
	if err != nil {
		listing.Err = err.Error()
		if len(dirents) == 0 {
			return listing, fmt.Errorf("list directory %s: %w", path, err)
		}
		s.log.Debug("directory listing truncated",
			zap.String("path", path),
			zap.Int("entries", len(dirents)),
			zap.Error(err))
	}
	listing.Entries = make([]model.DirectoryEntry, 0, len(dirents))
	for _, de := range dirents {
		listing.Entries = append(listing.Entries, s.entry(path, de.Name()))
	}
	return listing, nil
}

func (s *Surveyor) entry(dir, name string) model.DirectoryEntry {
	full := filepath.Join(dir, name)
	e := model.DirectoryEntry{Name: name, Path: full, Type: TypeUnknown}

	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		e.Status = entryStatus(err)
		return e
	}
	mode := uint32(st.Mode)
	e.Status = model.EntryOK
	e.Type = fileType(mode)
	if e.Type == TypeRegular {
		e.Size = st.Size
		e.HasSize = true
	}
	e.PermOctal = fmt.Sprintf("%04o", mode&0o7777)
	e.PermString = permString(mode)
	sec, nsec := st.Mtim.Unix()
	e.ModTime = time.Unix(sec, nsec)
	e.Owner = s.users.Name(int(st.Uid))
	return e
}

func entryStatus(err error) model.EntryStatus {
	switch {
	case errors.Is(err, unix.ENOENT):
		return model.EntryNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return model.EntryPermissionDenied
	}
	return model.EntryError
}

func fileType(mode uint32) string {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return TypeRegular
	case unix.S_IFDIR:
		return TypeDirectory
	case unix.S_IFLNK:
		return TypeSymlink
	case unix.S_IFCHR:
		return TypeCharDevice
	case unix.S_IFBLK:
		return TypeBlockDevice
	case unix.S_IFIFO:
		return TypeFIFO
	case unix.S_IFSOCK:
		return TypeSocket
	}
	return TypeUnknown
}

// permString renders mode the way ls -l does, e.g. "drwxr-xr-x".
func permString(mode uint32) string {
	b := []byte("?---------")
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		b[0] = '-'
	case unix.S_IFDIR:
		b[0] = 'd'
	case unix.S_IFLNK:
		b[0] = 'l'
	case unix.S_IFCHR:
		b[0] = 'c'
	case unix.S_IFBLK:
		b[0] = 'b'
	case unix.S_IFIFO:
		b[0] = 'p'
	case unix.S_IFSOCK:
		b[0] = 's'
	}
	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		}
	}
	special := func(bit uint32, pos int, set, unset byte) {
		if mode&bit == 0 {
			return
		}
		if b[pos] == '-' {
			b[pos] = unset
		} else {
			b[pos] = set
		}
	}
	special(unix.S_ISUID, 3, 's', 'S')
	special(unix.S_ISGID, 6, 's', 'S')
	special(unix.S_ISVTX, 9, 't', 'T')
	return string(b)
}
