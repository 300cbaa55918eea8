package watcher

import (
	"context"
	"log/slog"
	"time"

	"mimewatch/internal/config"
	"mimewatch/internal/scanner"
)

// pollWorker detects changes by diffing periodic snapshots. Used where
// kernel notifications are unavailable, such as network filesystems.
type pollWorker struct {
	s        *Supervisor
	watch    config.Watch
	logger   *slog.Logger
	interval time.Duration
}

func (s *Supervisor) newPollWorker(w config.Watch, logger *slog.Logger) *pollWorker {
	return &pollWorker{s: s, watch: w, logger: logger, interval: s.cfg.Global.ScanInterval.Duration()}
}

// Run starts the polling loop.
func (p *pollWorker) Run(ctx context.Context) error {
	scn := scanner.New(p.watch.Path, p.watch.Recursive, p.watch.Ignored)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// initial scan
	prev, err := scn.Scan()
	if err != nil {
		return err
	}
	deb := newDebouncer(p.watch.Debounce.Duration(), p.s.dispatchFunc(ctx, p.watch, p.logger))
	defer deb.stop()
	p.logger.Info("polling", "interval", p.interval, "rules", len(p.watch.Rules))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			curr, err := scn.Scan()
			if err != nil {
				p.logger.Error("scan error", "err", err)
				continue
			}
			for _, ev := range scanner.Diff(prev, curr) {
				if ev.Info.IsDir {
					continue
				}
				if ev.Kind == config.EventMove {
					p.logger.Debug("moved", "from", ev.PrevPath, "to", ev.Path)
				}
				p.s.accept(&p.watch, deb, ev.Path, ev.Kind)
			}
			prev = curr
		}
	}
}
