package dispatch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimewatch/internal/config"
	"mimewatch/internal/handler"
	"mimewatch/internal/logging"
	"mimewatch/internal/match"
	"mimewatch/internal/sniff"
	"mimewatch/internal/status"
	"mimewatch/internal/template"
)

type fixedRunner struct {
	mu    sync.Mutex
	code  int
	lines []string
}

func (r *fixedRunner) Run(_ context.Context, cmd template.Command, _ io.Writer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, cmd.Line)
	return r.code, nil
}

type noSleep struct{}

func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

func newDispatcher(r handler.Runner, ct string) (*Dispatcher, *status.Tracker, *bytes.Buffer) {
	var logs bytes.Buffer
	logger := logging.NewWithOutput(&logs, slog.LevelDebug, "text")
	tr := status.NewTracker()
	return &Dispatcher{
		Matcher: match.New(),
		Executor: &handler.Executor{
			Runner:      r,
			Sleeper:     noSleep{},
			MaxAttempts: 5,
			DelayCode:   75,
			Logger:      logger,
		},
		Detector: sniff.Static(ct),
		Tracker:  tr,
		Logger:   logger,
	}, tr, &logs
}

func watch(rules ...config.Rule) config.Watch {
	return config.Watch{Path: "/in", Rules: rules}
}

func TestHandleRunsMatchedRule(t *testing.T) {
	r := &fixedRunner{}
	d, tr, logs := newDispatcher(r, "application/pdf")
	w := watch(
		config.Rule{Pattern: "image/*", Handlers: []string{"view %%"}},
		config.Rule{Pattern: "application/pdf", Handlers: []string{"lp %%"}},
	)

	rep := d.Handle(context.Background(), w, "/in/a.pdf")
	assert.Equal(t, status.OutcomeHandled, rep.Outcome)
	assert.Equal(t, 1, rep.Match.Index)
	assert.NotEmpty(t, rep.EventID)
	assert.Equal(t, []string{`lp "/in/a.pdf"`}, r.lines)
	assert.Contains(t, logs.String(), `msg="Executing: lp \"/in/a.pdf\""`)

	snap := tr.Snapshot()
	assert.EqualValues(t, 1, snap["/in"].Handled)
	assert.EqualValues(t, 1, snap[RuleKey("/in", 1)].Handled)
}

func TestHandleNoMatch(t *testing.T) {
	r := &fixedRunner{}
	d, tr, _ := newDispatcher(r, "")
	rep := d.Handle(context.Background(), watch(config.Rule{Pattern: "text/*", Handlers: []string{"cat %%"}}), "/in/a")
	assert.Equal(t, status.OutcomeNoMatch, rep.Outcome)
	assert.False(t, rep.Match.Matched)
	assert.Empty(t, r.lines)
	assert.EqualValues(t, 1, tr.Snapshot()["/in"].NoMatch)
}

func TestHandleConfigErrors(t *testing.T) {
	r := &fixedRunner{}
	d, tr, _ := newDispatcher(r, "text/plain")

	rep := d.Handle(context.Background(), watch(config.Rule{Pattern: "/(/", Handlers: []string{"x %%"}}), "/in/a")
	assert.Equal(t, status.OutcomeConfig, rep.Outcome)
	assert.Error(t, rep.Err)

	rep = d.Handle(context.Background(), watch(config.Rule{Pattern: "*", Handlers: []string{"x"}}), "/in/a")
	assert.Equal(t, status.OutcomeConfig, rep.Outcome)
	assert.Equal(t, handler.FatalConfigError, rep.Result.Outcome)
	assert.Empty(t, r.lines)
	assert.EqualValues(t, 2, tr.Snapshot()["/in"].ConfigErrors)
}

func TestHandleGivesUp(t *testing.T) {
	r := &fixedRunner{code: 75}
	var sink bytes.Buffer
	d, tr, _ := newDispatcher(r, "")
	d.Sink = func(string) io.Writer { return &sink }

	rep := d.Handle(context.Background(), watch(config.Rule{Pattern: "*", Handlers: []string{"later %%"}}), "/in/a")
	assert.Equal(t, status.OutcomeGaveUp, rep.Outcome)
	assert.Len(t, r.lines, 5)
	assert.Equal(t, 1, strings.Count(sink.String(), "Handler gave up on retries.\n"))
	assert.EqualValues(t, 0, tr.Snapshot()["/in"].InFlight)
}

func TestHandleDryRun(t *testing.T) {
	r := &fixedRunner{}
	d, _, logs := newDispatcher(r, "")
	d.DryRun = true
	rep := d.Handle(context.Background(), watch(config.Rule{Pattern: "*.txt", Handlers: []string{"mv %% /done/"}}), "/in/a.txt")
	require.True(t, rep.DryRun)
	assert.Equal(t, status.OutcomeDryRun, rep.Outcome)
	assert.Empty(t, r.lines)
	assert.Contains(t, logs.String(), "dry-run handler")
}
