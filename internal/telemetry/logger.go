package telemetry

import (
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the process-wide slog default logger (used for
// ambient application logs: startup, config, HTTP access) and the
// zerolog global logger (used for the structured per-event log stream
// LogRecorder writes to). Both read the same level so "LOG_LEVEL=debug"
// turns on verbose output everywhere at once.
func Setup(level string) *slog.Logger {
	zlevel, slevel := parseLevel(level)
	zerolog.SetGlobalLevel(zlevel)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) (zerolog.Level, slog.Level) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, slog.LevelDebug
	case "warn", "warning":
		return zerolog.WarnLevel, slog.LevelWarn
	case "error":
		return zerolog.ErrorLevel, slog.LevelError
	default:
		return zerolog.InfoLevel, slog.LevelInfo
	}
}

// LogRecorder is a Recorder that writes Events to the zerolog global
// logger, grounded on the same "structured-event-to-log-line" pattern
// used for execution logging, retargeted at run/node/case fields.
type LogRecorder struct{}

// NewLogRecorder constructs a LogRecorder.
func NewLogRecorder() *LogRecorder { return &LogRecorder{} }

// Record writes one Event as a structured log line at the appropriate
// level.
func (LogRecorder) Record(e Event) {
	evt := logEventFor(e.Level)
	evt = evt.Str("event_type", string(e.Type)).
		Str("case_id", e.CaseID).
		Str("run_id", e.RunID)
	if e.Node != "" {
		evt = evt.Str("node", e.Node)
	}
	if e.Duration > 0 {
		evt = evt.Dur("duration", e.Duration)
	}
	if e.AttemptNumber > 0 {
		evt = evt.Int("attempt", e.AttemptNumber)
	}
	if e.RetryDelay > 0 {
		evt = evt.Dur("retry_delay", e.RetryDelay)
	}
	if e.Reason != "" {
		evt = evt.Str("reason", e.Reason)
	}
	if e.ErrorMessage != "" {
		evt = evt.Str("error", e.ErrorMessage)
	}
	evt.Msg(e.Message)
}

func logEventFor(l Level) *zerolog.Event {
	switch l {
	case LevelDebug:
		return log.Debug()
	case LevelWarn:
		return log.Warn()
	case LevelError:
		return log.Error()
	default:
		return log.Info()
	}
}
