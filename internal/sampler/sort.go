package sampler

import (
	"fmt"
	"sort"

	"github.com/Dicklesworthstone/procmon/internal/model"
)

// SortKey selects the process table ordering. All orderings are descending
// except SortPID.
type SortKey string

const (
	// SortCPUTime ranks by cumulative CPU seconds, heaviest consumer first.
	SortCPUTime SortKey = "cputime"
	SortCPU     SortKey = "cpu"
	SortMemory  SortKey = "mem"
	SortPID     SortKey = "pid"
)

// ParseSortKey validates s. The empty string selects SortCPUTime.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortCPUTime, nil
	case SortCPUTime, SortCPU, SortMemory, SortPID:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q (want cputime|cpu|mem|pid)", s)
}

func sortRecords(recs []model.ProcessRecord, key SortKey) {
	less := func(a, b model.ProcessRecord) (bool, bool) {
		switch key {
		case SortCPU:
			return a.CPUPercent > b.CPUPercent, a.CPUPercent == b.CPUPercent
		case SortMemory:
			return a.MemoryMB > b.MemoryMB, a.MemoryMB == b.MemoryMB
		case SortPID:
			return a.PID < b.PID, a.PID == b.PID
		}
		return a.CPUTimeSeconds > b.CPUTimeSeconds, a.CPUTimeSeconds == b.CPUTimeSeconds
	}
	sort.SliceStable(recs, func(i, j int) bool {
		lt, eq := less(recs[i], recs[j])
		if eq {
			return recs[i].PID < recs[j].PID
		}
		return lt
	})
}
