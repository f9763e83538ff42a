// Package corgilog wires up the process-wide zerolog logger the same way
// internal/daemon's Run does inline. Every request-scoped log line should
// carry request_id, alias, and endpoint_class via .With() on the returned
// logger.
package corgilog

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger to write to dataDir/corgi.log,
// plus a console writer when foreground is true. It returns the opened log
// file so the caller can close it on shutdown.
func Init(dataDir, level string, foreground bool) (*os.File, error) {
	zerolog.SetGlobalLevel(parseLevel(level))

	logPath := filepath.Join(dataDir, "corgi.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{logFile}
	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "corgi").Logger()
	return logFile, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
