package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity threshold.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to its Level. The empty string means Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Level(0), fmt.Errorf("unsupported log level %q", s)
	}
}

// Format selects how entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name to its Format. The empty string means
// Text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "text", "":
		return Text, nil
	default:
		return Format(0), fmt.Errorf("unsupported log format %q", s)
	}
}

// Field attaches one key/value pair to an entry.
type Field struct {
	Key   string
	Value any
}

// Err wraps an error as a log field.
func Err(err error) Field {
	return Field{Key: "err", Value: err}
}

// Logger is the leveled structured logger shared across this module.
// With returns a child whose fields prefix every later entry.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

var (
	defaultMu     sync.Mutex
	defaultLogger Logger
)

// Default returns the process-wide logger, creating a stderr text logger
// at Info on first use.
func Default() Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Info, Text, os.Stderr)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

type sink struct {
	level  Level
	format Format
	bound  []Field
	out    *log.Logger
}

// New builds a Logger writing entries at or above level to out.
func New(level Level, format Format, out io.Writer) Logger {
	return &sink{level: level, format: format, out: log.New(out, "", log.LstdFlags)}
}

func (s *sink) With(fields ...Field) Logger {
	child := &sink{level: s.level, format: s.format, out: s.out}
	child.bound = append(append([]Field{}, s.bound...), fields...)
	return child
}

func (s *sink) Debug(msg string, fields ...Field) { s.emit(Debug, msg, fields) }
func (s *sink) Info(msg string, fields ...Field)  { s.emit(Info, msg, fields) }
func (s *sink) Warn(msg string, fields ...Field)  { s.emit(Warn, msg, fields) }
func (s *sink) Error(msg string, fields ...Field) { s.emit(Error, msg, fields) }

func (s *sink) emit(level Level, msg string, fields []Field) {
	if level < s.level {
		return
	}
	merged := make([]Field, 0, len(s.bound)+len(fields))
	for _, f := range s.bound {
		if f.Key != "" {
			merged = append(merged, f)
		}
	}
	for _, f := range fields {
		if f.Key != "" {
			merged = append(merged, f)
		}
	}
	if s.format == JSON {
		s.emitJSON(level, msg, merged)
		return
	}
	s.emitText(level, msg, merged)
}

func (s *sink) emitText(level Level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	s.out.Print(b.String())
}

func (s *sink) emitJSON(level Level, msg string, fields []Field) {
	entry := map[string]any{
		"time":  time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range fields {
		// Errors render as {} through encoding/json; log their text.
		if err, ok := f.Value.(error); ok {
			entry[f.Key] = err.Error()
			continue
		}
		entry[f.Key] = f.Value
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.out.Printf("[ERROR] log entry not marshalable: %v", err)
		return
	}
	s.out.Print(string(data))
}
