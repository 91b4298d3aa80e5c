package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
)

// StdLogger implements the ports.Logger interface using the standard log package.
type StdLogger struct {
	logger    *log.Logger
	level     LogLevel
	format    Format
	component string
}

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects how a log line is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

// ParseFormat converts a string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// NewStdLogger creates a new text logger writing to os.Stderr.
func NewStdLogger(level LogLevel) *StdLogger {
	return New(os.Stderr, level, FormatText)
}

// New creates a logger writing to w in the given format.
func New(w io.Writer, level LogLevel, format Format) *StdLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	if format == FormatJSON {
		flags = 0 // timestamps go into the JSON object
	}
	return &StdLogger{
		logger: log.New(w, "", flags),
		level:  level,
		format: format,
	}
}

// With returns a logger that tags every line with a component name.
func (l *StdLogger) With(component string) *StdLogger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *StdLogger) log(ctx context.Context, level LogLevel, msg string, err error, fields ...map[string]interface{}) {
	if level < l.level {
		return // Skip logging if the level is below the configured threshold
	}

	var merged map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		merged = fields[0]
	}

	if l.format == FormatJSON {
		l.logger.Println(l.renderJSON(level, msg, err, merged))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] ", level.String()))
	if l.component != "" {
		sb.WriteString(fmt.Sprintf("(%s) ", l.component))
	}
	sb.WriteString(msg)

	if err != nil {
		sb.WriteString(fmt.Sprintf(" | error: %v", err))
	}

	// Sorted keys keep lines stable for grepping
	if len(merged) > 0 {
		sb.WriteString(" |")
		for _, k := range sortedKeys(merged) {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, merged[k]))
		}
	}

	l.logger.Println(sb.String())
}

func (l *StdLogger) renderJSON(level LogLevel, msg string, err error, fields map[string]interface{}) string {
	entry := map[string]interface{}{
		"level": level.String(),
		"msg":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	if len(fields) > 0 {
		clean := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			if e, ok := v.(error); ok {
				clean[k] = e.Error()
				continue
			}
			clean[k] = v
		}
		entry["fields"] = clean
	}
	b, mErr := json.Marshal(entry)
	if mErr != nil {
		return fmt.Sprintf(`{"level":%q,"msg":%q,"marshal_error":%q}`, level.String(), msg, mErr.Error())
	}
	return string(b)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Debug logs a message at Debug level.
func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, nil, fields...)
}

// Info logs a message at Info level.
func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, nil, fields...)
}

// Warn logs a message at Warning level.
func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, nil, fields...)
}

// Error logs an error message at Error level.
func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, err, fields...)
}
