package procfs

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcStat holds the fixed-position fields of /proc/<pid>/stat.
type ProcStat struct {
	PID       int
	Comm      string
	State     string
	UTime     uint64
	STime     uint64
	Priority  int
	Nice      int
	Threads   int
	StartTime uint64 // ticks since boot
}

// CPUTicks returns the cumulative user plus system ticks of the process.
func (s ProcStat) CPUTicks() uint64 { return s.UTime + s.STime }

// ProcStat reads /proc/<pid>/stat.
func (f FS) ProcStat(pid int) (ProcStat, error) {
	data, err := os.ReadFile(f.pidPath(pid, "stat"))
	if err != nil {
		return ProcStat{}, err
	}
	st, err := parseProcStat(data)
	if err != nil {
		return ProcStat{}, fmt.Errorf("pid %d: %w", pid, err)
	}
	return st, nil
}

func parseProcStat(data []byte) (ProcStat, error) {
	line := string(bytes.TrimSpace(data))
	open := strings.IndexByte(line, '(')
	closing := strings.LastIndexByte(line, ')')
	if open < 0 || closing < open {
		return ProcStat{}, fmt.Errorf("stat has no command name: %w", ErrMalformed)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line[:open]))
	if err != nil {
		return ProcStat{}, fmt.Errorf("stat pid %q: %w", line[:open], ErrMalformed)
	}
	// rest[0] is field 3 (state) of proc(5).
	rest := strings.Fields(line[closing+1:])
	if len(rest) < 20 {
		return ProcStat{}, fmt.Errorf("stat has %d fields after command: %w", len(rest), ErrMalformed)
	}
	field := func(n int) string { return rest[n-3] }

	st := ProcStat{PID: pid, Comm: line[open+1 : closing], State: field(3)}
	var errs []string
	parseU := func(n int) uint64 {
		v, err := strconv.ParseUint(field(n), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("field %d %q", n, field(n)))
		}
		return v
	}
	parseI := func(n int) int {
		v, err := strconv.Atoi(field(n))
		if err != nil {
			errs = append(errs, fmt.Sprintf("field %d %q", n, field(n)))
		}
		return v
	}
	st.UTime = parseU(14)
	st.STime = parseU(15)
	st.Priority = parseI(18)
	st.Nice = parseI(19)
	st.Threads = parseI(20)
	st.StartTime = parseU(22)
	if len(errs) > 0 {
		return ProcStat{}, fmt.Errorf("stat %s: %w", strings.Join(errs, ", "), ErrMalformed)
	}
	return st, nil
}

// ProcStatus holds the /proc/<pid>/status fields of interest. Memory
// values are KiB; fields missing from the file stay zero.
type ProcStatus struct {
	Name    string
	State   string
	UID     int // -1 when the Uid line is absent
	Threads int
	VmRSS   uint64
	VmSize  uint64
	VmExe   uint64
	VmData  uint64
	VmStk   uint64
	RssShm  uint64
}

// ProcStatus reads /proc/<pid>/status.
func (f FS) ProcStatus(pid int) (ProcStatus, error) {
	data, err := os.ReadFile(f.pidPath(pid, "status"))
	if err != nil {
		return ProcStatus{}, err
	}
	return parseProcStatus(data), nil
}

func parseProcStatus(data []byte) ProcStatus {
	st := ProcStatus{UID: -1}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, val, ok := splitKeyValue(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "Name":
			st.Name = val
		case "State":
			st.State = val
		case "Uid":
			if fields := strings.Fields(val); len(fields) > 0 {
				if uid, err := strconv.Atoi(fields[0]); err == nil {
					st.UID = uid
				}
			}
		case "Threads":
			st.Threads, _ = strconv.Atoi(val)
		case "VmRSS":
			st.VmRSS = parseKB(val)
		case "VmSize":
			st.VmSize = parseKB(val)
		case "VmExe":
			st.VmExe = parseKB(val)
		case "VmData":
			st.VmData = parseKB(val)
		case "VmStk":
			st.VmStk = parseKB(val)
		case "RssShmem":
			st.RssShm = parseKB(val)
		}
	}
	return st
}

// ProcIO holds the storage-layer byte counters of /proc/<pid>/io.
type ProcIO struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// ProcIO reads /proc/<pid>/io. The file is unreadable for other users'
// processes without CAP_SYS_PTRACE.
func (f FS) ProcIO(pid int) (ProcIO, error) {
	data, err := os.ReadFile(f.pidPath(pid, "io"))
	if err != nil {
		return ProcIO{}, err
	}
	var out ProcIO
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, val, ok := splitKeyValue(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "read_bytes":
			out.ReadBytes, _ = strconv.ParseUint(val, 10, 64)
		case "write_bytes":
			out.WriteBytes, _ = strconv.ParseUint(val, 10, 64)
		}
	}
	return out, sc.Err()
}
