// Package identity resolves numeric user ids to account names.
package identity

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPasswd is the system user database.
const DefaultPasswd = "/etc/passwd"

// Cache memoizes uid → name lookups against a passwd-format file. Every
// uid is resolved at most once; unknown uids map to their decimal form.
type Cache struct {
	path string

	mu    sync.Mutex
	names map[int]string
	scans int // database reads
}

// New returns a cache reading path, or DefaultPasswd when path is empty.
func New(path string) *Cache {
	if path == "" {
		path = DefaultPasswd
	}
	return &Cache{path: path, names: make(map[int]string)}
}

// Name returns the account name for uid.
func (c *Cache) Name(uid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[uid]; ok {
		return name
	}
	name, ok := c.lookup(uid)
	if !ok {
		name = strconv.Itoa(uid)
	}
	c.names[uid] = name
	return name
}

func (c *Cache) lookup(uid int) (string, bool) {
	c.scans++
	f, err := os.Open(c.path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 3 {
			continue
		}
		id, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		if id == uid {
			return parts[0], true
		}
	}
	return "", false
}
