package observability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fairyhunter13/oltp-olap-sync/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields. The
// level is taken from cfg.LogLevel (LOG_LEVEL, INFO by default); when that
// field is empty or unrecognized it falls back to debug in dev, info
// otherwise.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFor(cfg)}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

func levelFor(cfg config.Config) slog.Level {
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "INFO":
		return slog.LevelInfo
	default:
		if cfg.IsDev() {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}
}
