package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var levelColors = map[Level]string{
	LevelDebug: "\x1b[36m",
	LevelInfo:  "\x1b[32m",
	LevelWarn:  "\x1b[33m",
	LevelError: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// ParseLevel maps a level name to a Level. Unknown names give LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

type Logger struct {
	name  string
	level Level
	color bool

	mu  sync.Mutex
	out io.Writer
}

var (
	defaultLevelMu sync.RWMutex
	defaultLevel   *Level
)

// SetDefaultLevel overrides the level of every logger created afterwards,
// and of existing loggers on their next write.
func SetDefaultLevel(level string) {
	l := ParseLevel(level)
	defaultLevelMu.Lock()
	defaultLevel = &l
	defaultLevelMu.Unlock()
}

// NewLogger creates a named logger. A nil writer means colorized stdout.
func NewLogger(name, level string, writer io.Writer) *Logger {
	l := &Logger{name: name, level: ParseLevel(level), out: writer}
	if writer == nil {
		l.out = colorable.NewColorableStdout()
		l.color = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}
	return l
}

func (l *Logger) enabled(level Level) bool {
	defaultLevelMu.RLock()
	override := defaultLevel
	defaultLevelMu.RUnlock()
	if override != nil {
		return level >= *override
	}
	return level >= l.level
}

func (l *Logger) log(level Level, format string, args ...any) {
	if !l.enabled(level) {
		return
	}
	tag := level.String()
	if l.color {
		tag = levelColors[level] + tag + colorReset
	}
	line := fmt.Sprintf("[%s][%s][%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), tag, l.name, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }

func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, format, args...) }

func (l *Logger) Warnf(format string, args ...any) { l.log(LevelWarn, format, args...) }

func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
