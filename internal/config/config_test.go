package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimewatch/internal/pattern"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mimewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INCOMING", dir)
	path := writeConfig(t, `
watches:
  - path: ${INCOMING}
    rules:
      - pattern: "*.pdf"
        handlers: ["lp %%"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultDelay, cfg.Global.Delay.Duration())
	assert.Equal(t, DefaultMaxAttempts, cfg.Global.MaxAttempts)
	assert.Equal(t, DefaultDelayExitCode, cfg.Global.DelayExitCode)
	assert.Equal(t, BackendFSNotify, cfg.Global.Backend)
	require.Len(t, cfg.Watches, 1)
	w := cfg.Watches[0]
	assert.Equal(t, dir, w.Path)
	assert.Equal(t, DefaultDebounce, w.Debounce.Duration())
	assert.Equal(t, []EventType{EventCreate, EventModify, EventMove}, w.Events)
}

func TestLoadExpandsOnlyBracedEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INCOMING", dir)
	t.Setenv("1", "one")
	t.Setenv("NAME", "name")
	path := writeConfig(t, `
watches:
  - path: ${INCOMING}
    rules:
      - pattern: "/x$1$/"
        handlers: ["sh -c 'mv \"$1\" /out/$NAME-$$' _ %%"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Watches, 1)
	r := cfg.Watches[0].Rules[0]
	assert.Equal(t, dir, cfg.Watches[0].Path)
	assert.Equal(t, "/x$1$/", r.Pattern)
	assert.Equal(t, `sh -c 'mv "$1" /out/$NAME-$$' _ %%`, r.Handlers[0])
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("STATE", "/var/state")
	assert.Equal(t, "a /var/state $STATE ${} ${1} $@ $#",
		string(ExpandEnv([]byte("a ${STATE} $STATE ${} ${1} $@ $#"))))
	assert.Equal(t, "x  y", string(ExpandEnv([]byte("x ${MIMEWATCH_UNSET_VAR} y"))))
}

func TestLoadDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
global:
  delay: 90s
  handler_timeout: 1500
watches:
  - path: `+dir+`
    rules:
      - pattern: "text/*"
        handlers: ["cat %%"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Global.Delay.Duration())
	assert.Equal(t, 1500*time.Millisecond, cfg.Global.HandlerTimeout.Duration())
}

func TestValidateRule(t *testing.T) {
	require.NoError(t, ValidateRule(Rule{Pattern: "*.txt", Handlers: []string{"mv %% /archive/"}}))
	require.NoError(t, ValidateRule(Rule{Pattern: "*/*", Handlers: []string{"a %%", "b %%"}}))

	err := ValidateRule(Rule{Pattern: "", Handlers: []string{"a %%"}})
	assert.True(t, errors.Is(err, pattern.ErrEmptyPattern))

	err = ValidateRule(Rule{Pattern: "text/", Handlers: []string{"a %%"}})
	assert.True(t, errors.Is(err, pattern.ErrInvalidPattern))

	err = ValidateRule(Rule{Pattern: "a/b/c", Handlers: []string{"a %%"}})
	assert.True(t, errors.Is(err, pattern.ErrInvalidPattern))

	assert.Error(t, ValidateRule(Rule{Pattern: "*.txt"}))
	assert.Error(t, ValidateRule(Rule{Pattern: "*.txt", Handlers: []string{"echo"}}))
	assert.Error(t, ValidateRule(Rule{Pattern: "*.txt", Handlers: []string{"cp %% %%.bak"}}))
}

func TestValidateRejectsBadWatch(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing path": `
watches:
  - path: ` + filepath.Join(dir, "nope") + `
    rules: [{pattern: "*", handlers: ["x %%"]}]
`,
		"no rules": `
watches:
  - path: ` + dir + `
`,
		"bad ignore": `
watches:
  - path: ` + dir + `
    ignore: ["[unclosed"]
    rules: [{pattern: "*", handlers: ["x %%"]}]
`,
		"bad event": `
watches:
  - path: ` + dir + `
    events: [explode]
    rules: [{pattern: "*", handlers: ["x %%"]}]
`,
		"bad backend": `
global:
  backend: carrier-pigeon
watches:
  - path: ` + dir + `
    rules: [{pattern: "*", handlers: ["x %%"]}]
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestWatchIgnoredAndEvents(t *testing.T) {
	w := Watch{
		Ignore: []string{"**/.*", "**/*.part"},
		Events: []EventType{EventCreate},
	}
	assert.True(t, w.Ignored(".hidden"))
	assert.True(t, w.Ignored("a/b/download.part"))
	assert.False(t, w.Ignored("a/b/report.pdf"))
	assert.True(t, w.AllowsEvent(EventCreate))
	assert.False(t, w.AllowsEvent(EventDelete))
}
