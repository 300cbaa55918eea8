package status

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	snapshotFile = "status.yaml"
	lockFile     = "mimewatch.lock"
)

// ErrAlreadyRunning is returned when another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another mimewatch instance is running")

// File is the persisted form of a tracker snapshot.
type File struct {
	PID      int                `yaml:"pid"`
	Updated  time.Time          `yaml:"updated"`
	Counters map[string]Counter `yaml:"counters"`
}

// Store persists snapshots under a state directory so that `mimewatch status`
// can read them from another process.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, snapshotFile)
}

// Save writes the snapshot atomically while holding the snapshot lock.
func (s *Store) Save(counters map[string]Counter) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(File{PID: os.Getpid(), Updated: time.Now(), Counters: counters})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	lock := flock.New(s.Path() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock status: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".status-*")
	if err != nil {
		return fmt.Errorf("create temp status: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close status: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename status: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot.
func (s *Store) Load() (File, error) {
	lock := flock.New(s.Path() + ".lock")
	if err := lock.RLock(); err != nil {
		return File{}, fmt.Errorf("lock status: %w", err)
	}
	defer lock.Unlock()
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return File{}, fmt.Errorf("read status: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse status: %w", err)
	}
	return f, nil
}

// AcquireInstance takes the daemon's single-instance lock without blocking.
// The returned release func must be called on shutdown.
func (s *Store) AcquireInstance() (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lock := flock.New(filepath.Join(s.dir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock instance: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return func() { _ = lock.Unlock() }, nil
}
