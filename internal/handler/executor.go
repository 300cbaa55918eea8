package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mimewatch/internal/config"
	"mimewatch/internal/template"
)

// Lines written to the event sink.
const (
	lineExecuting = "Executing: "
	lineDelaying  = "Handler indicated delay, sleeping...\n"
	lineResuming  = "Handler process resuming.\n"
	lineGaveUp    = "Handler gave up on retries.\n"
)

// Executor runs a rule's handler chain: each handler is invoked in order
// until one succeeds. A handler exiting with DelayCode is re-run after Delay;
// the delay budget of MaxAttempts is shared by the whole chain.
type Executor struct {
	Runner      Runner
	Sleeper     Sleeper
	Delay       time.Duration
	MaxAttempts int
	DelayCode   int
	Logger      *slog.Logger
}

// Result describes one chain run.
type Result struct {
	Outcome     Outcome
	Attempts    int
	Invocations int
	// Handler is the index of the last handler considered.
	Handler int
	// Err explains a FatalConfigError.
	Err error
}

// NewExecutor builds an executor from global settings.
func NewExecutor(g config.Global, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Runner:      &ExecRunner{Timeout: g.HandlerTimeout.Duration()},
		Sleeper:     TimerSleeper{},
		Delay:       g.Delay.Duration(),
		MaxAttempts: g.MaxAttempts,
		DelayCode:   g.DelayExitCode,
		Logger:      logger,
	}
}

// Execute runs handlers against path, writing progress lines and handler
// output to sink. The returned error is non-nil only when ctx ends during a
// delay, in which case the event is abandoned.
func (e *Executor) Execute(ctx context.Context, handlers []string, path string, sink io.Writer) (Result, error) {
	res := Result{Outcome: ChainExhausted}
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxAttempts
	}
	logger := e.logger()

	for i := 0; i < len(handlers); {
		res.Handler = i
		cmd, err := template.Expand(handlers[i], path)
		if err != nil {
			res.Outcome = FatalConfigError
			res.Err = fmt.Errorf("handler %d: %w", i, err)
			return res, nil
		}
		emit(sink, lineExecuting+cmd.Line+"\n")
		code, runErr := e.Runner.Run(ctx, cmd, sink)
		res.Invocations++
		if runErr != nil {
			logger.Warn("handler did not start", "handler", i, "cmd", cmd.Line, "err", runErr)
		}
		st := Decode(code, e.DelayCode)
		logger.Debug("handler exited", "handler", i, "status", st.String())

		switch st.Kind {
		case StatusSuccess:
			res.Outcome = HandledSuccessfully
			return res, nil
		case StatusDelay:
			res.Attempts++
			if res.Attempts >= maxAttempts {
				emit(sink, lineGaveUp)
				res.Outcome = AttemptsExceeded
				return res, nil
			}
			emit(sink, lineDelaying)
			if err := e.sleeper().Sleep(ctx, e.Delay); err != nil {
				return res, err
			}
			emit(sink, lineResuming)
		default:
			i++
		}
	}
	return res, nil
}

func (e *Executor) sleeper() Sleeper {
	if e.Sleeper == nil {
		return TimerSleeper{}
	}
	return e.Sleeper
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func emit(sink io.Writer, line string) {
	if sink == nil {
		return
	}
	_, _ = io.WriteString(sink, line)
}
