package procfs

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// DiskStat holds the cumulative sector counters of one block device.
type DiskStat struct {
	Name           string
	SectorsRead    uint64
	SectorsWritten uint64
}

// ReadBytes converts SectorsRead to bytes.
func (d DiskStat) ReadBytes() uint64 { return d.SectorsRead * SectorSize }

// WriteBytes converts SectorsWritten to bytes.
func (d DiskStat) WriteBytes() uint64 { return d.SectorsWritten * SectorSize }

var (
	wholeDiskPrefixes = []string{"sd", "hd", "vd", "xvd"}
	excludedPrefixes  = []string{"sr", "loop", "ram", "dm-"}
)

const nvmePrefix = "nvme"

// IsWholeDisk reports whether name is a physical disk rather than a
// partition, loopback, ramdisk, device-mapper or optical device.
func IsWholeDisk(name string) bool {
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(name, p) {
			return false
		}
	}
	for _, p := range wholeDiskPrefixes {
		if strings.HasPrefix(name, p) {
			return len(name) > len(p) && strings.IndexFunc(name[len(p):], unicode.IsDigit) < 0
		}
	}
	if strings.HasPrefix(name, nvmePrefix) {
		rest := name[len(nvmePrefix):]
		return rest != "" && !strings.Contains(rest, "p")
	}
	return false
}

// DiskStats parses /proc/diskstats. Lines that are too short or carry
// non-numeric counters are skipped; the second return value counts them.
func (f FS) DiskStats() ([]DiskStat, int, error) {
	data, err := os.ReadFile(f.path("diskstats"))
	if err != nil {
		return nil, 0, err
	}
	stats, skipped := parseDiskStats(data)
	return stats, skipped, nil
}

func parseDiskStats(data []byte) ([]DiskStat, int) {
	var (
		out     []DiskStat
		skipped int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 10 {
			skipped++
			continue
		}
		rd, err1 := strconv.ParseUint(fields[5], 10, 64)
		wr, err2 := strconv.ParseUint(fields[9], 10, 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		out = append(out, DiskStat{Name: fields[2], SectorsRead: rd, SectorsWritten: wr})
	}
	return out, skipped
}
