package logger

import (
	"io"
	"log/slog"

	"atd/signal-comms/internal/lib/logger/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// Setup picks the handler for env: pretty output locally, JSON elsewhere.
// verbose lowers the level to debug.
func Setup(out io.Writer, env string, verbose bool) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}),
		)
	case envLocal:
		log = setupPrettySlog(out)
	default:
		log = setupPrettySlog(out)
	}

	return log
}

func setupPrettySlog(out io.Writer) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(out)

	return slog.New(handler)
}
