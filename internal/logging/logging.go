package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// NewWithOutput creates a logger writing text or json records to w.
func NewWithOutput(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// MaxLine is the longest line LineWriter buffers; longer output is logged in
// MaxLine sized records.
const MaxLine = 64 << 10

// LineWriter is an io.Writer that logs each complete line it receives as one
// record. It is the per-event sink: handler progress and handler output from
// many events end up on one logger without splitting lines.
type LineWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	buf    []byte
}

// NewLineWriter returns a sink logging through logger at level.
func NewLineWriter(logger *slog.Logger, level slog.Level) *LineWriter {
	return &LineWriter{logger: logger, level: level}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= MaxLine {
		w.emit(w.buf[:MaxLine])
		w.buf = w.buf[MaxLine:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, text)
}
