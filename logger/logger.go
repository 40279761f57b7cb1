package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/KarpelesLab/ringbuf"
	"github.com/pterm/pterm"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Chunk writes, gate waits, raw frames
	DEBUG                 // Decoded frames and events (JSON)
	INFO                  // Link state, activation, batch summaries
	WARN                  // Dropped frames, failed assets
	ERROR                 // Session errors
)

// TailSize is the amount of recent log output kept in memory.
const TailSize = 1024 * 1024

var (
	currentLevel LogLevel = INFO
	mu           sync.RWMutex

	backend *pterm.Logger
	logbuf  *ringbuf.Writer
)

func init() {
	var err error
	logbuf, err = ringbuf.New(TailSize)
	if err != nil {
		logbuf = nil
	}
	SetOutput(os.Stderr)
}

// SetOutput sends log lines to w. Lines are still copied into the tail buffer.
// A nil w restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	if logbuf != nil {
		w = io.MultiWriter(w, logbuf)
	}

	l := pterm.DefaultLogger
	l.ShowTime = true
	l.TimeFormat = "02 Jan 15:04:05"
	l.MaxWidth = 1000
	l.Level = pterm.LogLevelTrace
	l.Writer = w

	mu.Lock()
	backend = &l
	mu.Unlock()
}

// Tail copies the recent log history to w.
func Tail(w io.Writer) (int64, error) {
	if logbuf == nil {
		return 0, nil
	}
	r := logbuf.Reader()
	defer r.Close()
	return io.Copy(w, r)
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		msg = "[" + prefix + "] " + msg
	}

	mu.RLock()
	b := backend
	mu.RUnlock()

	switch level {
	case TRACE:
		b.Trace(msg)
	case DEBUG:
		b.Debug(msg)
	case INFO:
		b.Info(msg)
	case WARN:
		b.Warn(msg)
	default:
		b.Error(msg)
	}
}

// Trace logs a trace message (chunk writes, raw frames)
func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

// Debug logs a debug message (decoded frames and events)
func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

// Info logs an info message (high-level events)
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Warn logs a warning message
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Error logs an error message
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// ToJSON converts any value to a pretty-printed JSON string for logging
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		marshaler := protojson.MarshalOptions{
			Multiline:       true,
			Indent:          "  ",
			EmitUnpopulated: false,
		}
		jsonBytes, err := marshaler.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(jsonBytes)
	}

	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// TraceJSON logs a trace message with a JSON representation
func TraceJSON(prefix, label string, v interface{}) {
	if GetLevel() > TRACE {
		return
	}
	log(TRACE, prefix, "%s:\n%s", label, ToJSON(v))
}

// DebugJSON logs a debug message with a JSON representation
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() > DEBUG {
		return
	}
	log(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}
