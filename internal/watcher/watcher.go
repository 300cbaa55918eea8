package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"mimewatch/internal/config"
	"mimewatch/internal/dispatch"
)

// Handler processes one event for a file under a watch.
type Handler interface {
	Handle(ctx context.Context, w config.Watch, path string) dispatch.Report
}

// Supervisor manages watch workers and the goroutines they start per event.
type Supervisor struct {
	cfg      config.Config
	logger   *slog.Logger
	handler  Handler
	inflight sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSupervisor constructs a supervisor.
func NewSupervisor(cfg config.Config, logger *slog.Logger, h Handler) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger, handler: h}
}

// Run starts all workers and blocks until ctx is done and every in-flight
// event has finished. Workers that fail are reported together.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error
	for _, wcfg := range s.cfg.Watches {
		wg.Add(1)
		go func(w config.Watch) {
			defer wg.Done()
			logger := s.logger.With("watch", w.Path, "backend", string(s.cfg.Global.Backend))
			var err error
			switch s.cfg.Global.Backend {
			case config.BackendPoll:
				err = s.newPollWorker(w, logger).Run(ctx)
			default:
				err = s.newNotifyWorker(w, logger).Run(ctx)
			}
			if err != nil {
				logger.Error("watch stopped", "err", err)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("watch %s: %w", w.Path, err))
				errMu.Unlock()
			}
		}(wcfg)
	}
	wg.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	return errors.Join(errs...)
}

// accept applies the watch's filters and hands the event to the debouncer.
func (s *Supervisor) accept(w *config.Watch, d *debouncer, path string, ev config.EventType) {
	rel, err := filepath.Rel(w.Path, path)
	if err != nil {
		return
	}
	if w.Ignored(rel) {
		return
	}
	d.schedule(path, ev)
}

// dispatchFunc returns the debouncer flush for a watch: one goroutine per
// event so a handler waiting out a delay never blocks intake.
func (s *Supervisor) dispatchFunc(ctx context.Context, w config.Watch, logger *slog.Logger) func(string, config.EventType) {
	return func(path string, ev config.EventType) {
		if !w.AllowsEvent(ev) {
			logger.Debug("event filtered", "path", path, "event", string(ev))
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || ctx.Err() != nil {
			return
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.handler.Handle(ctx, w, path)
		}()
	}
}
