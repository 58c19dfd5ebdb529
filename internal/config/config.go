package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/procmon/internal/identity"
	"github.com/Dicklesworthstone/procmon/internal/procfs"
	"github.com/Dicklesworthstone/procmon/internal/sampler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROCMON_"

// EnvFiles are loaded into the environment, in order, when present.
// Variables already set are not overwritten.
var EnvFiles = []string{".env", "procmon.env"}

// Config carries runtime options for procmon.
type Config struct {
	Interval  time.Duration `yaml:"interval"`
	Limit     int           `yaml:"limit"`
	Sort      string        `yaml:"sort"`
	Directory string        `yaml:"directory"`
	ProcRoot  string        `yaml:"proc_root"`
	Passwd    string        `yaml:"passwd"`
	LogLevel  string        `yaml:"log_level"`
	LogFile   string        `yaml:"log_file"`

	// Command-line only.
	ConfigFile string `yaml:"-"`
	JSON       bool   `yaml:"-"`
	PID        int    `yaml:"-"`
}

func Default() Config {
	dir, err := os.UserHomeDir()
	if err != nil || dir == "" {
		dir = "/"
	}
	return Config{
		Interval:  2 * time.Second,
		Limit:     10,
		Sort:      string(sampler.SortCPUTime),
		Directory: dir,
		ProcRoot:  procfs.DefaultRoot,
		Passwd:    identity.DefaultPasswd,
		LogLevel:  "info",
	}
}

// FromFlags builds a Config from defaults, an optional YAML file, .env
// files, PROCMON_* environment variables and finally args, each layer
// overriding the previous one.
func FromFlags(args []string) (Config, error) {
	cfg := Default()

	var (
		fc   = cfg
		fs   = flag.NewFlagSet("procmon", flag.ContinueOnError)
		sort string
	)
	fs.StringVar(&fc.ConfigFile, "config", "", "YAML config file")
	fs.DurationVar(&fc.Interval, "interval", cfg.Interval, "refresh interval")
	fs.IntVar(&fc.Limit, "limit", cfg.Limit, "number of processes shown")
	fs.StringVar(&sort, "sort", cfg.Sort, "sort column: cputime|cpu|mem|pid")
	fs.StringVar(&fc.Directory, "dir", cfg.Directory, "initial directory for the file browser")
	fs.StringVar(&fc.ProcRoot, "proc", cfg.ProcRoot, "procfs mount point")
	fs.StringVar(&fc.Passwd, "passwd", cfg.Passwd, "user database for uid lookups")
	fs.StringVar(&fc.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fs.StringVar(&fc.LogFile, "log-file", cfg.LogFile, "log destination (empty: stderr, or procmon.log in dashboard mode)")
	fs.BoolVar(&fc.JSON, "json", false, "print one snapshot as JSON and exit")
	fs.IntVar(&fc.PID, "pid", 0, "print details of one process as JSON and exit")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fc.Sort = sort
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	loadEnvFiles()

	cfg.ConfigFile = fc.ConfigFile
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = os.Getenv(EnvPrefix + "CONFIG")
	}
	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	apply := map[string]func(){
		"interval":  func() { cfg.Interval = fc.Interval },
		"limit":     func() { cfg.Limit = fc.Limit },
		"sort":      func() { cfg.Sort = fc.Sort },
		"dir":       func() { cfg.Directory = fc.Directory },
		"proc":      func() { cfg.ProcRoot = fc.ProcRoot },
		"passwd":    func() { cfg.Passwd = fc.Passwd },
		"log-level": func() { cfg.LogLevel = fc.LogLevel },
		"log-file":  func() { cfg.LogFile = fc.LogFile },
	}
	for name, fn := range apply {
		if set[name] {
			fn()
		}
	}
	cfg.JSON = fc.JSON
	cfg.PID = fc.PID
	cfg.Directory = expandHome(cfg.Directory)
	return cfg, cfg.Validate()
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	if c.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Limit <= 0 {
		err = multierr.Append(err, fmt.Errorf("limit must be positive, got %d", c.Limit))
	}
	if _, perr := sampler.ParseSortKey(c.Sort); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.PID < 0 {
		err = multierr.Append(err, fmt.Errorf("pid must not be negative, got %d", c.PID))
	}
	if c.JSON && c.PID != 0 {
		err = multierr.Append(err, errors.New("-json and -pid are mutually exclusive"))
	}
	return err
}

// SortKey returns the validated sort key.
func (c Config) SortKey() sampler.SortKey {
	k, _ := sampler.ParseSortKey(c.Sort)
	return k
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func loadEnvFiles() {
	for _, f := range EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

func (c *Config) applyEnv() error {
	var err error
	if v, ok := lookup("INTERVAL"); ok {
		d, perr := parseInterval(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%sINTERVAL: %w", EnvPrefix, perr))
		} else {
			c.Interval = d
		}
	}
	if v, ok := lookup("LIMIT"); ok {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%sLIMIT: %w", EnvPrefix, perr))
		} else {
			c.Limit = n
		}
	}
	for name, dst := range map[string]*string{
		"SORT":      &c.Sort,
		"DIR":       &c.Directory,
		"PROC":      &c.ProcRoot,
		"PASSWD":    &c.Passwd,
		"LOG_LEVEL": &c.LogLevel,
		"LOG_FILE":  &c.LogFile,
	} {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	return err
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// parseInterval accepts Go durations and bare seconds.
func parseInterval(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	return time.ParseDuration(v + "s")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
