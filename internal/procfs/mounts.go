package procfs

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
)

// Mount is one line of /proc/mounts.
type Mount struct {
	Device     string
	MountPoint string
	FSType     string
	Options    string
}

// Mounts parses /proc/mounts.
func (f FS) Mounts() ([]Mount, error) {
	data, err := os.ReadFile(f.path("mounts"))
	if err != nil {
		return nil, err
	}
	return parseMounts(data), nil
}

func parseMounts(data []byte) []Mount {
	var out []Mount
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		m := Mount{
			Device:     unescapeMount(fields[0]),
			MountPoint: unescapeMount(fields[1]),
			FSType:     fields[2],
		}
		if len(fields) > 3 {
			m.Options = fields[3]
		}
		out = append(out, m)
	}
	return out
}

// unescapeMount decodes the \NNN octal escapes the kernel uses for
// whitespace and backslashes in mount entries.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
