// Package dispatch turns one changed file into a rule selection and a
// handler chain run, and records what happened.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"mimewatch/internal/config"
	"mimewatch/internal/handler"
	"mimewatch/internal/logging"
	"mimewatch/internal/match"
	"mimewatch/internal/sniff"
	"mimewatch/internal/status"
	"mimewatch/internal/template"
)

// Report summarises one dispatched event.
type Report struct {
	EventID     string
	Path        string
	ContentType string
	Match       match.Outcome
	Result      handler.Result
	// Outcome is one of the status.Outcome* names.
	Outcome string
	Err     error
	DryRun  bool
}

// Dispatcher wires detection, matching and execution together. It is safe
// for concurrent use; each call to Handle owns its own sink.
type Dispatcher struct {
	Matcher  *match.Matcher
	Executor *handler.Executor
	Detector sniff.Detector
	Tracker  *status.Tracker
	Logger   *slog.Logger
	DryRun   bool
	// Sink, when set, receives progress lines instead of the logger.
	Sink func(eventID string) io.Writer
}

// New builds a dispatcher from global settings.
func New(g config.Global, tracker *status.Tracker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Matcher:  match.New(),
		Executor: handler.NewExecutor(g, logger),
		Detector: sniff.Magic{},
		Tracker:  tracker,
		Logger:   logger,
		DryRun:   g.DryRun,
	}
}

// Handle processes one event for path under watch w.
func (d *Dispatcher) Handle(ctx context.Context, w config.Watch, path string) Report {
	rep := Report{EventID: uuid.NewString(), Path: path, DryRun: d.DryRun}
	logger := d.Logger.With("event", rep.EventID, "watch", w.Path, "path", path)
	if d.Tracker != nil {
		d.Tracker.IncEvent(w.Path)
	}

	if d.Detector != nil {
		ct, err := d.Detector.Detect(path)
		if err != nil {
			logger.Debug("content type unknown", "err", err)
		}
		rep.ContentType = ct
	}

	out, err := d.Matcher.Match(w.Rules, match.Input{Path: path, ContentType: rep.ContentType})
	rep.Match = out
	if err != nil {
		rep.Outcome = status.OutcomeConfig
		rep.Err = err
		logger.Error("rule cannot be evaluated", "err", err)
		d.done(w, rep)
		return rep
	}
	if !out.Matched {
		rep.Outcome = status.OutcomeNoMatch
		logger.Info("no rule matched", "content_type", rep.ContentType)
		d.done(w, rep)
		return rep
	}
	logger = logger.With("rule", out.Index, "pattern", out.Rule.Pattern, "kind", out.Kind.String())

	if d.DryRun {
		for i, h := range out.Rule.Handlers {
			cmd, err := template.Expand(h, path)
			if err != nil {
				logger.Warn("dry-run handler invalid", "handler", i, "err", err)
				continue
			}
			logger.Info("dry-run handler", "handler", i, "cmd", cmd.Line)
		}
		rep.Outcome = status.OutcomeDryRun
		d.done(w, rep)
		return rep
	}

	sink := d.sink(rep.EventID, logger)
	res, err := d.Executor.Execute(ctx, out.Rule.Handlers, path, sink)
	if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}
	rep.Result = res
	if err != nil {
		rep.Outcome = status.OutcomeAbandoned
		rep.Err = err
		logger.Warn("event abandoned", "attempts", res.Attempts, "err", err)
		d.done(w, rep)
		return rep
	}
	rep.Outcome = outcomeName(res.Outcome)
	rep.Err = res.Err
	attrs := []any{"outcome", rep.Outcome, "attempts", res.Attempts, "invocations", res.Invocations}
	switch res.Outcome {
	case handler.HandledSuccessfully:
		logger.Info("event handled", append(attrs, "handler", res.Handler)...)
	case handler.FatalConfigError:
		logger.Error("handler chain misconfigured", append(attrs, "err", res.Err)...)
	default:
		logger.Warn("event not handled", attrs...)
	}
	d.done(w, rep)
	return rep
}

func (d *Dispatcher) sink(id string, logger *slog.Logger) io.Writer {
	if d.Sink != nil {
		return d.Sink(id)
	}
	return logging.NewLineWriter(logger, slog.LevelInfo)
}

func (d *Dispatcher) done(w config.Watch, rep Report) {
	if d.Tracker == nil {
		return
	}
	rule := ""
	if rep.Match.Matched {
		rule = RuleKey(w.Path, rep.Match.Index)
	}
	errStr := ""
	if rep.Err != nil {
		errStr = rep.Err.Error()
	}
	d.Tracker.Done(w.Path, rule, rep.Outcome, rep.Path, errStr)
}

// RuleKey names a rule in status snapshots.
func RuleKey(watchPath string, index int) string {
	return fmt.Sprintf("%s#%d", watchPath, index)
}

func outcomeName(o handler.Outcome) string {
	switch o {
	case handler.HandledSuccessfully:
		return status.OutcomeHandled
	case handler.ChainExhausted:
		return status.OutcomeExhausted
	case handler.AttemptsExceeded:
		return status.OutcomeGaveUp
	default:
		return status.OutcomeConfig
	}
}
