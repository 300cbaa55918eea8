package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriterSplitsLines(t *testing.T) {
	var out bytes.Buffer
	logger := NewWithOutput(&out, slog.LevelInfo, "json").With("event", "abc")
	w := NewLineWriter(logger, slog.LevelInfo)

	_, err := w.Write([]byte("Executing: lp \"/a\"\nHandler ind"))
	require.NoError(t, err)
	_, err = w.Write([]byte("icated delay, sleeping...\n\npartial"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"msg":"Executing: lp \"/a\""`)
	assert.Contains(t, lines[0], `"event":"abc"`)
	assert.Contains(t, lines[1], `"msg":"Handler indicated delay, sleeping..."`)
	assert.Contains(t, lines[2], `"msg":"partial"`)
}

func TestLineWriterCapsUnterminatedOutput(t *testing.T) {
	var out bytes.Buffer
	logger := NewWithOutput(&out, slog.LevelInfo, "text")
	w := NewLineWriter(logger, slog.LevelInfo)

	_, err := w.Write(bytes.Repeat([]byte("x"), MaxLine*2+10))
	require.NoError(t, err)
	assert.Len(t, w.buf, 10)
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
	require.NoError(t, w.Close())
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
	assert.Nil(t, w.buf)
}

func TestLineWriterRespectsLevel(t *testing.T) {
	var out bytes.Buffer
	logger := NewWithOutput(&out, slog.LevelInfo, "text")
	w := NewLineWriter(logger, slog.LevelDebug)
	_, _ = w.Write([]byte("hidden\n"))
	assert.Empty(t, out.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
