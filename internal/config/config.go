package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"mimewatch/internal/pattern"
	"mimewatch/internal/template"
)

// EventType enumerates filesystem events we handle.
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventMove   EventType = "move"
)

// Backend selects how change notifications are obtained.
type Backend string

const (
	BackendFSNotify Backend = "fsnotify"
	BackendPoll     Backend = "poll"
)

// Global applies to all watches unless overridden.
type Global struct {
	Delay          MillisDuration `yaml:"delay"`
	MaxAttempts    int            `yaml:"max_attempts"`
	DelayExitCode  int            `yaml:"delay_exit_code"`
	HandlerTimeout MillisDuration `yaml:"handler_timeout"`
	Debounce       MillisDuration `yaml:"debounce_ms"`
	Backend        Backend        `yaml:"backend"`
	ScanInterval   MillisDuration `yaml:"scan_interval_ms"`
	StateDir       string         `yaml:"state_dir"`
	DryRun         bool           `yaml:"dry_run"`
}

// Rule binds a pattern to an ordered chain of handler command templates.
type Rule struct {
	Pattern  string   `yaml:"pattern"`
	Handlers []string `yaml:"handlers"`
}

// Watch is a folder with rules. Rule order is significant.
type Watch struct {
	Path      string         `yaml:"path"`
	Recursive bool           `yaml:"recursive"`
	Events    []EventType    `yaml:"events"`
	Ignore    []string       `yaml:"ignore"`
	Debounce  MillisDuration `yaml:"debounce_ms"`
	Rules     []Rule         `yaml:"rules"`
}

// Config is the root.
type Config struct {
	Global  Global  `yaml:"global"`
	Watches []Watch `yaml:"watches"`
}

// Defaults used when the config leaves a value unset.
const (
	DefaultDelay         = 5 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultDelayExitCode = 75 // EX_TEMPFAIL
	DefaultDebounce      = 200 * time.Millisecond
	DefaultScanInterval  = time.Second
)

// Load reads and validates the config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates config bytes.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} with the environment value. Bare $NAME, $1 or
// $$ are left alone since they are common in regex rules and shell handlers.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// Validate verifies config consistency.
func (c *Config) Validate() error {
	if len(c.Watches) == 0 {
		return errors.New("at least one watch must be defined")
	}
	switch c.Global.Backend {
	case BackendFSNotify, BackendPoll:
	default:
		return fmt.Errorf("unknown backend %q", c.Global.Backend)
	}
	if c.Global.MaxAttempts <= 0 {
		return errors.New("max_attempts must be > 0")
	}
	if c.Global.DelayExitCode <= 0 || c.Global.DelayExitCode > 255 {
		return fmt.Errorf("delay_exit_code must be in 1..255, got %d", c.Global.DelayExitCode)
	}
	if c.Global.Delay.Duration() < 0 {
		return errors.New("delay must be >= 0")
	}
	if c.Global.ScanInterval.Duration() <= 0 {
		return errors.New("scan_interval_ms must be > 0")
	}
	for i := range c.Watches {
		w := &c.Watches[i]
		if w.Path == "" {
			return fmt.Errorf("watch %d: path is required", i)
		}
		info, err := os.Stat(w.Path)
		if err != nil {
			return fmt.Errorf("watch %s: path error: %w", w.Path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("watch %s: not a directory", w.Path)
		}
		if w.Debounce.Duration() < 0 {
			return fmt.Errorf("watch %s: debounce_ms must be >= 0", w.Path)
		}
		for _, ev := range w.Events {
			switch ev {
			case EventCreate, EventModify, EventDelete, EventMove:
			default:
				return fmt.Errorf("watch %s: unknown event %q", w.Path, ev)
			}
		}
		for _, ig := range w.Ignore {
			if !doublestar.ValidatePattern(ig) {
				return fmt.Errorf("watch %s: invalid ignore pattern %q", w.Path, ig)
			}
		}
		if len(w.Rules) == 0 {
			return fmt.Errorf("watch %s: at least one rule is required", w.Path)
		}
		for j := range w.Rules {
			if err := ValidateRule(w.Rules[j]); err != nil {
				return fmt.Errorf("watch %s rule %d: %w", w.Path, j, err)
			}
		}
	}
	return nil
}

// ValidateRule checks a rule's pattern syntax and handler templates.
func ValidateRule(r Rule) error {
	kind, expr, err := pattern.Classify(r.Pattern)
	if err != nil {
		return err
	}
	if kind == pattern.Mime {
		major, minor, ok := strings.Cut(expr, "/")
		if !ok || major == "" || minor == "" || strings.Contains(minor, "/") {
			return fmt.Errorf("%w: content type %q must be major/minor", pattern.ErrInvalidPattern, r.Pattern)
		}
	}
	if len(r.Handlers) == 0 {
		return errors.New("at least one handler is required")
	}
	for k, h := range r.Handlers {
		if n := strings.Count(h, template.Marker); n != 1 {
			return fmt.Errorf("handler %d: expected exactly one %s placeholder, found %d", k, template.Marker, n)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Global.Delay.Duration() == 0 {
		c.Global.Delay = MillisFromDuration(DefaultDelay)
	}
	if c.Global.MaxAttempts == 0 {
		c.Global.MaxAttempts = DefaultMaxAttempts
	}
	if c.Global.DelayExitCode == 0 {
		c.Global.DelayExitCode = DefaultDelayExitCode
	}
	if c.Global.Debounce.Duration() == 0 {
		c.Global.Debounce = MillisFromDuration(DefaultDebounce)
	}
	if c.Global.ScanInterval.Duration() == 0 {
		c.Global.ScanInterval = MillisFromDuration(DefaultScanInterval)
	}
	if c.Global.Backend == "" {
		c.Global.Backend = BackendFSNotify
	}
	for i := range c.Watches {
		w := &c.Watches[i]
		if w.Debounce.Duration() == 0 {
			w.Debounce = c.Global.Debounce
		}
		if len(w.Events) == 0 {
			w.Events = []EventType{EventCreate, EventModify, EventMove}
		}
	}
}

// MillisDuration stores a duration in milliseconds parsed from int or duration string.
type MillisDuration int64

// MillisFromDuration converts time.Duration to MillisDuration.
func MillisFromDuration(d time.Duration) MillisDuration {
	return MillisDuration(d / time.Millisecond)
}

// Duration returns the time.Duration value.
func (d MillisDuration) Duration() time.Duration {
	return time.Duration(int64(d)) * time.Millisecond
}

// UnmarshalYAML implements yaml unmarshalling with ms support.
func (d *MillisDuration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		// try int (milliseconds)
		if v, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
			*d = MillisDuration(v)
			return nil
		}
		// fallback to duration string
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		*d = MillisDuration(parsed.Milliseconds())
		return nil
	default:
		return fmt.Errorf("invalid duration node kind: %v", value.Kind)
	}
}

// AllowsEvent reports whether the watch dispatches the event type.
func (w *Watch) AllowsEvent(ev EventType) bool {
	for _, e := range w.Events {
		if e == ev {
			return true
		}
	}
	return false
}

// Ignored tests ignore patterns against a path relative to the watch root.
func (w *Watch) Ignored(relPath string) bool {
	if len(w.Ignore) == 0 {
		return false
	}
	p := filepath.ToSlash(relPath)
	for _, ig := range w.Ignore {
		if ok, _ := doublestar.Match(ig, p); ok {
			return true
		}
	}
	return false
}

// ResolvePaths cleans watch paths.
func (c *Config) ResolvePaths() error {
	for i := range c.Watches {
		p, err := filepath.Abs(c.Watches[i].Path)
		if err != nil {
			return err
		}
		c.Watches[i].Path = p
	}
	if c.Global.StateDir == "" {
		c.Global.StateDir = DefaultStateDir()
	}
	return nil
}

// DefaultStateDir returns $XDG_STATE_HOME/mimewatch or ~/.local/state/mimewatch.
func DefaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "mimewatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mimewatch")
	}
	return filepath.Join(home, ".local", "state", "mimewatch")
}
