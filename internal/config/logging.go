package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel orders logging verbosity. Higher is more verbose.
type LogLevel int

const (
	// ErrLevel=1 - errors only.
	ErrLevel LogLevel = iota + 1

	// WarnLevel=2 - warnings and errors.
	WarnLevel

	// InfoLevel=3 - session lifecycle and window transitions.
	InfoLevel

	// DebugLevel=4 - page allocations, syscall decoding, instrumentation stats.
	DebugLevel

	// TraceLevel=5 - every engine event. Only usable on small programs.
	TraceLevel
)

// slogTrace is below slog.LevelDebug; slog has no name for it.
const slogTrace = slog.Level(-8)

func (l LogLevel) String() string {
	switch l {
	case ErrLevel:
		return "error"
	case WarnLevel:
		return "warn"
	case InfoLevel:
		return "info"
	case DebugLevel:
		return "debug"
	case TraceLevel:
		return "trace"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch {
	case l <= ErrLevel:
		return slog.LevelError
	case l == WarnLevel:
		return slog.LevelWarn
	case l == InfoLevel:
		return slog.LevelInfo
	case l == DebugLevel:
		return slog.LevelDebug
	default:
		return slogTrace
	}
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "error", "err":
		return ErrLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "trace":
		return TraceLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level: %q", name)
	}
}

// LogGroup is a leveled logger. Each *f method is a no-op below its level,
// so format arguments on the hot path cost only the level comparison.
type LogGroup struct {
	level  LogLevel
	logger *slog.Logger
}

// NewLogGroup returns a log group writing text records to stderr at the
// level stored in config.
func NewLogGroup(config *Config) *LogGroup {
	level := InfoLevel
	if config != nil {
		if l, err := ParseLevel(config.LogLevel); err == nil {
			level = l
		}
	}
	return NewLogGroupTo(os.Stderr, level)
}

// NewLogGroupTo returns a log group writing text records to w.
func NewLogGroupTo(w io.Writer, level LogLevel) *LogGroup {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == slogTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return &LogGroup{level: level, logger: slog.New(h)}
}

// Discard returns a log group that drops everything.
func Discard() *LogGroup {
	return &LogGroup{level: ErrLevel - 1, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Level returns the configured level.
func (l *LogGroup) Level() LogLevel { return l.level }

// Enabled reports whether messages at level are emitted.
func (l *LogGroup) Enabled(level LogLevel) bool { return l.level >= level }

// With returns a log group that adds attrs to every record.
func (l *LogGroup) With(args ...any) *LogGroup {
	return &LogGroup{level: l.level, logger: l.logger.With(args...)}
}

func (l *LogGroup) logf(level LogLevel, format string, v ...any) {
	l.logger.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, v...))
}

// Tracef logs at trace level. Arguments are handled in the manner of Printf.
func (l *LogGroup) Tracef(format string, v ...any) {
	if l.level >= TraceLevel {
		l.logf(TraceLevel, format, v...)
	}
}

// Debugf logs at debug level.
func (l *LogGroup) Debugf(format string, v ...any) {
	if l.level >= DebugLevel {
		l.logf(DebugLevel, format, v...)
	}
}

// Infof logs at info level.
func (l *LogGroup) Infof(format string, v ...any) {
	if l.level >= InfoLevel {
		l.logf(InfoLevel, format, v...)
	}
}

// Warnf logs at warn level.
func (l *LogGroup) Warnf(format string, v ...any) {
	if l.level >= WarnLevel {
		l.logf(WarnLevel, format, v...)
	}
}

// Errorf logs at error level.
func (l *LogGroup) Errorf(format string, v ...any) {
	if l.level >= ErrLevel {
		l.logf(ErrLevel, format, v...)
	}
}
