package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimewatch/internal/config"
	"mimewatch/internal/match"
)

func TestSampleConfigLoads(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Mkdir("incoming", 0o755))
	require.NoError(t, os.WriteFile("mimewatch.yaml", []byte(sampleConfig), 0o644))

	cfg, err := loadConfig("mimewatch.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Watches, 1)
	w := cfg.Watches[0]
	assert.True(t, filepath.IsAbs(w.Path))
	assert.Len(t, w.Rules, 4)
	assert.Equal(t, config.DefaultMaxAttempts, cfg.Global.MaxAttempts)
	assert.NotEmpty(t, cfg.Global.StateDir)

	out, err := match.New().Match(w.Rules, match.Input{Path: filepath.Join(w.Path, "scan.tmp")})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Index)
}

func TestSampleConfigHandlersWriteOutsideWatch(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Mkdir("incoming", 0o755))
	require.NoError(t, os.WriteFile("mimewatch.yaml", []byte(sampleConfig), 0o644))
	cfg, err := loadConfig("mimewatch.yaml")
	require.NoError(t, err)

	for _, w := range cfg.Watches {
		for _, r := range w.Rules {
			for _, h := range r.Handlers {
				for _, field := range strings.Fields(h) {
					if !strings.HasPrefix(field, ".") && !strings.HasPrefix(field, "/") {
						continue
					}
					abs, err := filepath.Abs(field)
					require.NoError(t, err)
					assert.False(t, abs == w.Path || strings.HasPrefix(abs, w.Path+string(filepath.Separator)),
						"handler %q writes into watched tree", h)
				}
			}
		}
	}
}

func TestLoadConfigRejectsBadRegex(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	body := "watches:\n  - path: " + dir + "\n    rules:\n      - pattern: \"/(unclosed/\"\n        handlers: [\"true %%\"]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	_, err := loadConfig(cfgPath)
	require.Error(t, err)
	var ce *match.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestPickWatch(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	watches := []config.Watch{{Path: a}, {Path: b}}

	assert.Equal(t, a, pickWatch(watches, "").Path)
	assert.Equal(t, b, pickWatch(watches, b).Path)
	assert.Nil(t, pickWatch(watches, filepath.Join(b, "elsewhere")))
	assert.Nil(t, pickWatch(nil, ""))
}
