package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level     slog.Level
	Format    string
	Output    io.Writer
	AddSource bool
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelWarn,
		Format:    "text",
		Output:    os.Stderr,
		AddSource: false,
	}
}

func Init(cfg Config) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a config string to a slog level, defaulting to warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// FileOutput opens an append-only diagnostic sink. Falls back to stderr if
// the file cannot be opened, so diagnostics are never silently lost.
func FileOutput(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return os.Stderr
	}
	return f
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// ForComponent returns a logger tagged with the component name. Component
// loggers are usually created in package-level vars, before Init has run,
// so the handler resolves the process default lazily at log time rather
// than capturing whatever was installed at package init.
func ForComponent(component string) *slog.Logger {
	return slog.New(&dynamicHandler{}).With("component", component)
}

func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

type dynamicHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *dynamicHandler) resolve() slog.Handler {
	target := slog.Default().Handler()
	for _, op := range h.ops {
		target = op(target)
	}
	return target
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derived(func(t slog.Handler) slog.Handler { return t.WithAttrs(attrs) })
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	return h.derived(func(t slog.Handler) slog.Handler { return t.WithGroup(name) })
}

func (h *dynamicHandler) derived(op func(slog.Handler) slog.Handler) slog.Handler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	return &dynamicHandler{ops: append(ops, op)}
}
