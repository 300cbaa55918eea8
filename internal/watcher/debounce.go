package watcher

import (
	"sync"
	"time"

	"mimewatch/internal/config"
)

type pending struct {
	timer *time.Timer
	event config.EventType
}

// debouncer holds events per path until the path has been quiet for the
// configured duration, then flushes the merged event once.
type debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	entries  map[string]*pending
	flush    func(path string, ev config.EventType)
}

func newDebouncer(d time.Duration, flush func(string, config.EventType)) *debouncer {
	return &debouncer{duration: d, entries: map[string]*pending{}, flush: flush}
}

// schedule records ev for path and restarts its quiet timer. A zero
// duration flushes immediately.
func (d *debouncer) schedule(path string, ev config.EventType) {
	if d.duration <= 0 {
		d.flush(path, ev)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entries == nil {
		return
	}
	entry, ok := d.entries[path]
	if !ok {
		entry = &pending{event: ev}
		entry.timer = time.AfterFunc(d.duration, func() { d.fire(path) })
		d.entries[path] = entry
		return
	}
	entry.event = merge(entry.event, ev)
	entry.timer.Reset(d.duration)
}

func (d *debouncer) fire(path string) {
	d.mu.Lock()
	entry, ok := d.entries[path]
	if ok {
		delete(d.entries, path)
	}
	d.mu.Unlock()
	if ok {
		d.flush(path, entry.event)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.entries {
		entry.timer.Stop()
	}
	d.entries = nil
}

// merge keeps the event that best describes a burst: a file created or
// moved in and then written is still new; a delete ends the burst.
func merge(prev, next config.EventType) config.EventType {
	switch {
	case next == config.EventDelete:
		return next
	case prev == config.EventCreate || prev == config.EventMove:
		return prev
	default:
		return next
	}
}
