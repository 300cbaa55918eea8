package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mimewatch/internal/config"
)

// FileInfo captures file metadata relevant for diffing.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
	Mode    fs.FileMode
}

// Snapshot maps absolute paths to file info.
type Snapshot map[string]FileInfo

// Event is a change found by comparing two snapshots. PrevPath is set for
// moves.
type Event struct {
	Path     string
	PrevPath string
	Kind     config.EventType
	Info     FileInfo
}

// Skip reports whether a path relative to the root should be left out.
type Skip func(relPath string) bool

// Scanner walks a root directory to produce a snapshot.
type Scanner struct {
	root      string
	recursive bool
	skip      Skip
}

// New creates a scanner for a root. skip may be nil.
func New(root string, recursive bool, skip Skip) *Scanner {
	return &Scanner{root: root, recursive: recursive, skip: skip}
}

// Scan walks the root and builds a snapshot.
func (s *Scanner) Scan() (Snapshot, error) {
	out := make(Snapshot)
	err := s.walk(func(path string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		out[path] = FileInfo{
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
			Mode:    info.Mode(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dirs returns the root and, when recursive, every directory below it that
// is not skipped. Used to register directories with the notifier.
func (s *Scanner) Dirs() ([]string, error) {
	dirs := []string{s.root}
	if !s.recursive {
		return dirs, nil
	}
	err := s.walk(func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

func (s *Scanner) walk(fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != s.root && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == s.root {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if s.skip != nil && s.skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.recursive && strings.Contains(rel, string(os.PathSeparator)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(path, d)
	})
}

// Diff lists what changed from prev to curr. A path that disappeared while a
// new path with the same size, mtime and mode appeared is reported as one
// move. Modifications come first, then moves, creations and deletions.
func Diff(prev, curr Snapshot) []Event {
	gone := map[string]FileInfo{}
	bySig := map[string][]string{} // signature -> vanished paths, for move pairing
	for p, info := range prev {
		if _, ok := curr[p]; !ok {
			gone[p] = info
			sig := signature(info)
			bySig[sig] = append(bySig[sig], p)
		}
	}

	var modified, moved, created []Event
	for p, info := range curr {
		old, existed := prev[p]
		switch {
		case existed && hasChanged(old, info):
			modified = append(modified, Event{Path: p, Kind: config.EventModify, Info: info})
		case existed:
		default:
			sig := signature(info)
			if from := bySig[sig]; len(from) > 0 {
				bySig[sig] = from[1:]
				delete(gone, from[0])
				moved = append(moved, Event{Path: p, PrevPath: from[0], Kind: config.EventMove, Info: info})
				continue
			}
			created = append(created, Event{Path: p, Kind: config.EventCreate, Info: info})
		}
	}

	events := append(modified, moved...)
	events = append(events, created...)
	for p, info := range gone {
		events = append(events, Event{Path: p, Kind: config.EventDelete, Info: info})
	}
	return events
}

func hasChanged(prev, curr FileInfo) bool {
	return prev.Size != curr.Size || !prev.ModTime.Equal(curr.ModTime) || prev.Mode != curr.Mode
}

func signature(info FileInfo) string {
	return fmt.Sprintf("%d-%d-%o", info.Size, info.ModTime.UnixNano(), info.Mode)
}
