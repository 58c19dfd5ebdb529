package procfs

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// MemInfo holds the /proc/meminfo fields used for usage percentages, in KiB.
type MemInfo struct {
	MemTotal     uint64
	MemFree      uint64
	MemAvailable uint64
	// HasAvailable is false on kernels that do not report MemAvailable;
	// MemAvailable then carries MemFree.
	HasAvailable bool
	SwapTotal    uint64
	SwapFree     uint64
}

// MemInfo parses /proc/meminfo.
func (f FS) MemInfo() (MemInfo, error) {
	data, err := os.ReadFile(f.path("meminfo"))
	if err != nil {
		return MemInfo{}, err
	}
	return parseMemInfo(data)
}

func parseMemInfo(data []byte) (MemInfo, error) {
	var (
		m     MemInfo
		found bool
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, val, ok := splitKeyValue(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "MemTotal":
			m.MemTotal = parseKB(val)
			found = true
		case "MemFree":
			m.MemFree = parseKB(val)
		case "MemAvailable":
			m.MemAvailable = parseKB(val)
			m.HasAvailable = true
		case "SwapTotal":
			m.SwapTotal = parseKB(val)
		case "SwapFree":
			m.SwapFree = parseKB(val)
		}
	}
	if err := sc.Err(); err != nil {
		return MemInfo{}, err
	}
	if !found {
		return MemInfo{}, fmt.Errorf("meminfo has no MemTotal: %w", ErrMalformed)
	}
	if !m.HasAvailable {
		m.MemAvailable = m.MemFree
	}
	return m, nil
}
