package logutil

import (
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"
)

var outputMu sync.Mutex

// Configure sets the level and formatter of the default logger and routes
// log/slog through it.
func Configure(levelRaw, formatRaw string) error {
	level, err := parseConfiguredLevel(levelRaw)
	if err != nil {
		return err
	}
	formatter, err := parseFormatter(formatRaw)
	if err != nil {
		return err
	}
	outputMu.Lock()
	defer outputMu.Unlock()
	log.SetLevel(level)
	log.SetFormatter(formatter)
	log.SetReportTimestamp(true)
	slog.SetDefault(slog.New(log.Default()))
	return nil
}

func parseConfiguredLevel(levelRaw string) (log.Level, error) {
	levelRaw = strings.TrimSpace(levelRaw)
	if levelRaw == "" {
		return log.InfoLevel, nil
	}
	switch strings.ToLower(levelRaw) {
	case "trace", "trac":
		// The logger has no native trace enum; map trace to most verbose mode.
		return log.DebugLevel, nil
	default:
		level, err := log.ParseLevel(levelRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return level, nil
	}
}

func parseFormatter(formatRaw string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(formatRaw)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid logformat %q", formatRaw)
	}
}

// SetOutput redirects the default logger. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
}

// StandardLog adapts the default logger for packages that want a *log.Logger,
// such as chi's request logger. Lines are logged at info level.
func StandardLog() *stdlog.Logger {
	return log.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel})
}
