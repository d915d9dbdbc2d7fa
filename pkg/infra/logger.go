package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/config"
)

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// SetupLogger builds the process logger. Output goes to stdout and to an
// append-only <service>.log file so crashed runs leave a trail on disk.
func SetupLogger(cfg *config.Config, service string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	f, err := os.OpenFile(service+".log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		logFileMu.Lock()
		logFile = f
		logFileMu.Unlock()
		out = io.MultiWriter(os.Stdout, f)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// CloseLogger releases the log file handle. Call it last in main.
func CloseLogger() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
