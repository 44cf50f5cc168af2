// Package logging holds the process-wide zerolog logger. Packages take a
// tagged child with Component when they are constructed.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a zerolog level.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config holds logger configuration.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty selects zerolog's console writer. Ignored for file output.
	Pretty     bool
	TimeFormat string
	// LogToFile sends logs to octomind-<date>.log under LogDir instead of
	// Output, keeping the terminal free for the session.
	LogToFile bool
	LogDir    string
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		LogDir:     os.TempDir(),
	}
}

// Init replaces the global logger. The returned file is non-nil when
// LogToFile is set; the caller closes it on exit.
func Init(cfg Config) (*os.File, error) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var file *os.File
	switch {
	case cfg.LogToFile:
		f, err := openLogFile(cfg.LogDir)
		if err != nil {
			return nil, err
		}
		file, out = f, f
	case cfg.Pretty:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
	return file, nil
}

// SetLevel changes the level of the global logger. Component loggers taken
// before the call keep their level.
func SetLevel(level Level) {
	Logger = Logger.Level(level)
}

func openLogFile(dir string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := "octomind-" + time.Now().Format(time.DateOnly) + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// ParseLevel parses DEBUG, INFO, WARN, ERROR or FATAL, ignoring case.
// Anything else is InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func init() {
	Init(DefaultConfig())
}
