package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log line
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// ParseLevel converts a settings string ("debug", "Info", ...) into a LogLevel.
// Unknown values fall back to INFO.
func ParseLevel(s string) LogLevel {
	level := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRank[level]; ok {
		return level
	}
	return LogLevelInfo
}

// Fields carries structured key/value context for a log line
type Fields map[string]interface{}

// formatLine renders one text line. Field keys are sorted so lines are
// stable across runs.
func formatLine(at time.Time, level LogLevel, component, message string, err error, fields Fields) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s [%s] %s", at.Format("2006-01-02 15:04:05.000"), level, component, message)

	if err != nil {
		fmt.Fprintf(&b, " | error=%v", err)
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Logger writes component-tagged lines. Loggers derived with Named share
// one lock so their lines never interleave.
type Logger struct {
	component string
	minLevel  LogLevel
	outputs   []io.Writer
	mu        *sync.Mutex
}

// NewLogger returns a stdout logger at INFO
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		minLevel:  LogLevelInfo,
		outputs:   []io.Writer{os.Stdout},
		mu:        &sync.Mutex{},
	}
}

// NewDiscardLogger returns a logger with no outputs. Components built
// without a logger use one.
func NewDiscardLogger(component string) *Logger {
	l := NewLogger(component)
	l.outputs = nil
	return l
}

// Named returns a logger for a sub-component with the parent's outputs and
// level
func (l *Logger) Named(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &Logger{
		component: component,
		minLevel:  l.minLevel,
		outputs:   append([]io.Writer(nil), l.outputs...),
		mu:        l.mu,
	}
}

// SetMinLevel drops lines below level
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
	return l
}

// AddOutput adds a writer
func (l *Logger) AddOutput(w io.Writer) *Logger {
	l.mu.Lock()
	l.outputs = append(l.outputs, w)
	l.mu.Unlock()
	return l
}

func (l *Logger) write(level LogLevel, message string, err error, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.outputs) == 0 || levelRank[level] < levelRank[l.minLevel] {
		return
	}
	line := formatLine(time.Now(), level, l.component, message, err, fields)
	for _, w := range l.outputs {
		w.Write(line)
	}
}

func (l *Logger) Debug(message string) { l.write(LogLevelDebug, message, nil, nil) }
func (l *Logger) Info(message string)  { l.write(LogLevelInfo, message, nil, nil) }
func (l *Logger) Warn(message string)  { l.write(LogLevelWarn, message, nil, nil) }

// Error logs message with err appended
func (l *Logger) Error(message string, err error) { l.write(LogLevelError, message, err, nil) }

func (l *Logger) DebugWithContext(message string, fields Fields) {
	l.write(LogLevelDebug, message, nil, fields)
}

func (l *Logger) InfoWithContext(message string, fields Fields) {
	l.write(LogLevelInfo, message, nil, fields)
}

func (l *Logger) WarnWithContext(message string, fields Fields) {
	l.write(LogLevelWarn, message, nil, fields)
}

func (l *Logger) ErrorWithContext(message string, err error, fields Fields) {
	l.write(LogLevelError, message, err, fields)
}
