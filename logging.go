package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const LevelVerbose = slog.LevelDebug

var levelColors = map[slog.Level]*color.Color{
	LevelVerbose:    color.New(color.Reset),
	slog.LevelInfo:  color.New(color.Reset),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed),
}

// consoleHandler prints the bare message, colored by level. Verbose and info
// go to stdout, warnings and errors to stderr. Attributes are appended as
// key=value pairs.
type consoleHandler struct {
	level  *slog.LevelVar
	stdout io.Writer // nil means os.Stdout at write time
	stderr io.Writer // nil means os.Stderr at write time
	attrs  []slog.Attr
	mu     *sync.Mutex
}

func newConsoleHandler(level *slog.LevelVar) *consoleHandler {
	return &consoleHandler{level: level, mu: &sync.Mutex{}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder
	builder.WriteString(record.Message)
	writeAttr := func(attr slog.Attr) bool {
		builder.WriteString(" ")
		builder.WriteString(attr.Key)
		builder.WriteString("=")
		builder.WriteString(attr.Value.String())
		return true
	}
	for _, attr := range h.attrs {
		writeAttr(attr)
	}
	record.Attrs(writeAttr)

	out := h.stdout
	if out == nil {
		out = os.Stdout
	}
	if record.Level >= slog.LevelWarn {
		out = h.stderr
		if out == nil {
			out = os.Stderr
		}
	}

	c, ok := levelColors[record.Level]
	if !ok {
		c = levelColors[slog.LevelInfo]
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := c.Fprintln(out, builder.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(_ string) slog.Handler {
	return h
}

var (
	logLevel = func() *slog.LevelVar {
		level := &slog.LevelVar{}
		level.Set(slog.LevelInfo)
		return level
	}()
	logger = slog.New(newConsoleHandler(logLevel))
)

// SetLogLevel changes the minimum level of the process logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

func LogVerbose(format string, args ...any) {
	logger.Log(context.Background(), LevelVerbose, fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}
