package procfs

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CPUTimes holds the aggregate tick counters of the first /proc/stat line.
type CPUTimes struct {
	User      uint64
	Nice      uint64
	System    uint64
	Idle      uint64
	IOWait    uint64
	IRQ       uint64
	SoftIRQ   uint64
	Steal     uint64
	Guest     uint64
	GuestNice uint64
}

// IdleTicks returns idle plus iowait ticks.
func (t CPUTimes) IdleTicks() uint64 { return t.Idle + t.IOWait }

// Busy returns all non-idle ticks. Guest time is already part of user time.
func (t CPUTimes) Busy() uint64 {
	return t.User + t.Nice + t.System + t.IRQ + t.SoftIRQ + t.Steal
}

// Total returns Busy plus IdleTicks.
func (t CPUTimes) Total() uint64 { return t.Busy() + t.IdleTicks() }

// CPUTimes parses the aggregate "cpu" line of /proc/stat.
func (f FS) CPUTimes() (CPUTimes, error) {
	data, err := os.ReadFile(f.path("stat"))
	if err != nil {
		return CPUTimes{}, err
	}
	return parseCPUTimes(data)
}

func parseCPUTimes(data []byte) (CPUTimes, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		vals := fields[1:]
		if len(vals) < 4 {
			return CPUTimes{}, fmt.Errorf("stat cpu line has %d fields: %w", len(vals), ErrMalformed)
		}
		nums := make([]uint64, 10)
		for i := 0; i < len(vals) && i < len(nums); i++ {
			v, err := strconv.ParseUint(vals[i], 10, 64)
			if err != nil {
				return CPUTimes{}, fmt.Errorf("stat cpu field %d %q: %w", i+1, vals[i], ErrMalformed)
			}
			nums[i] = v
		}
		return CPUTimes{
			User:      nums[0],
			Nice:      nums[1],
			System:    nums[2],
			Idle:      nums[3],
			IOWait:    nums[4],
			IRQ:       nums[5],
			SoftIRQ:   nums[6],
			Steal:     nums[7],
			Guest:     nums[8],
			GuestNice: nums[9],
		}, nil
	}
	if err := sc.Err(); err != nil {
		return CPUTimes{}, err
	}
	return CPUTimes{}, fmt.Errorf("stat has no cpu line: %w", ErrMalformed)
}

// BootTime returns the system boot time from the btime line of /proc/stat.
func (f FS) BootTime() (time.Time, error) {
	file, err := os.Open(f.path("stat"))
	if err != nil {
		return time.Time{}, err
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "btime") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		secs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || secs <= 0 {
			return time.Time{}, fmt.Errorf("btime %q: %w", fields[1], ErrMalformed)
		}
		return time.Unix(secs, 0), nil
	}
	if err := sc.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, fmt.Errorf("stat has no btime line: %w", ErrMalformed)
}
