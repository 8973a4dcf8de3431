package sdk

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// levelToWire maps each zerolog.Level the tap copies into the buffer to its
// wire-format level name; levels absent from the map are not copied.
var levelToWire = map[zerolog.Level]string{
	zerolog.TraceLevel: "TRACE",
	zerolog.DebugLevel: "DEBUG",
	zerolog.InfoLevel:  "INFO",
	zerolog.WarnLevel:  "WARNING",
	zerolog.ErrorLevel: "ERROR",
	zerolog.FatalLevel: "CRITICAL",
	zerolog.PanicLevel: "CRITICAL",
}

// tapHook implements zerolog.Hook: every emitted record at or above threshold is
// copied into the SDK's buffer, never blocking the emitting goroutine.
type tapHook struct {
	buf       *buffer
	threshold zerolog.Level
	service   string

	warnMu       sync.Mutex
	lastOverflow time.Time
	console      *zerolog.Logger
}

func newTapHook(buf *buffer, threshold zerolog.Level, service string, console *zerolog.Logger) *tapHook {
	h := &tapHook{buf: buf, threshold: threshold, service: service, console: console}
	buf.onDrop = h.warnOverflow
	return h
}

// Run satisfies zerolog.Hook. It never touches e after Run returns, so it
// must extract what it needs (the rendered message) before that happens.
func (h *tapHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < h.threshold || level == zerolog.NoLevel {
		return
	}
	wireLevel, ok := levelToWire[level]
	if !ok {
		return
	}

	h.buf.push(LogRecord{
		Timestamp: time.Now(),
		Level:     wireLevel,
		Message:   truncateMessage(msg),
		Service:   h.service,
	})
}

const maxMessageBytes = 16384

func truncateMessage(msg string) string {
	if len(msg) <= maxMessageBytes {
		return msg
	}
	return msg[:maxMessageBytes]
}

// warnOverflow emits a rate-limited (once per minute) WARN to the host's
// own console when the buffer drops a record, never recursing into the
// logsentry pipeline itself.
func (h *tapHook) warnOverflow() {
	h.warnMu.Lock()
	defer h.warnMu.Unlock()

	if time.Since(h.lastOverflow) < time.Minute {
		return
	}
	h.lastOverflow = time.Now()
	if h.console != nil {
		h.console.Warn().Msg("logsentry: buffer full, dropping oldest log record")
	}
}

// parseLevel maps a lowercase level name to a zerolog.Level, defaulting to
// InfoLevel for anything unrecognized.
func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal", "critical":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
