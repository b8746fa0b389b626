// Package logger configures the process-wide slog logger and carries bulk-job
// identifiers through contexts so async pipeline stages log consistently.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type jobKey struct{}

// Setup installs the process-wide default logger. format selects json or
// text output; an unrecognized level falls back to info.
func Setup(level string, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithJobID stores a bulk-job identifier in ctx for downstream log
// enrichment.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey{}, jobID)
}

// FromContext returns the default logger enriched with the job id carried in
// ctx, if any.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if jobID, ok := ctx.Value(jobKey{}).(string); ok {
		logger = logger.With("job_id", jobID)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
