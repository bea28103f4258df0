package build

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
)

// LogType selects where log output goes. It is fixed at compile time by the
// stdlog and nolog build tags.
type LogType byte

const (
	// LogTypeNone discards every log line.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes to stdout only, which is what unit tests use.
	LogTypeStdOut

	// LogTypeDefault writes to stdout and the rotating log file.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// LogLevel is the level of stdout loggers in stdlog builds.
const LogLevel = "info"

// LogWriter is the output every subsystem backend writes to. Its Write
// method depends on the build tags.
type LogWriter struct {
	// Rotator is the rotating log file. It may be nil, in which case only
	// stdout is written.
	Rotator io.Writer
}

// NewSubLogger returns the logger for subsystem. Normally it is built by
// genSubLogger on the shared backend. Stdlog builds give every subsystem its
// own stdout logger, and without a generator the subsystem stays silent.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch {
	case LoggingType == LogTypeStdOut:
		logger := btclog.NewBackend(&LogWriter{}).Logger(subsystem)
		level, _ := btclog.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger

	case LoggingType == LogTypeNone, genSubLogger == nil:
		return btclog.Disabled
	}

	return genSubLogger(subsystem)
}

// SubLoggers maps subsystem codes to their loggers.
type SubLoggers map[string]btclog.Logger

// Names returns the registered subsystem codes, sorted.
func (s SubLoggers) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// LeveledSubLogger is a registry of subsystem loggers whose levels can be
// changed at runtime.
type LeveledSubLogger interface {
	// SubLoggers returns every registered subsystem logger.
	SubLoggers() SubLoggers

	// SetLogLevel changes the level of a single subsystem.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels changes the level of every subsystem.
	SetLogLevels(logLevel string)
}

var (
	// ErrInvalidLogLevel is returned for a level btclog does not know, or
	// a malformed subsystem=level pair.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrUnknownSubsystem is returned for a subsystem code that is not
	// registered.
	ErrUnknownSubsystem = errors.New("unknown subsystem")
)

// DebugLevels is a parsed debuglevel option.
type DebugLevels struct {
	// Global is the level of every subsystem, empty to keep the current
	// levels.
	Global string

	// Subsystems holds the per subsystem overrides applied after Global.
	Subsystems map[string]string
}

// ParseDebugLevels parses a debuglevel option of the form
// "<level>[,<subsystem>=<level>]..." where the leading global level is
// optional. Subsystems must be registered in known.
func ParseDebugLevels(option string, known SubLoggers) (*DebugLevels, error) {
	levels := &DebugLevels{
		Subsystems: make(map[string]string),
	}

	for i, field := range strings.Split(option, ",") {
		subsystem, level, isPair := strings.Cut(field, "=")

		if !isPair {
			if i > 0 {
				return nil, fmt.Errorf("%w: expected "+
					"subsystem=level, got %q",
					ErrInvalidLogLevel, field)
			}
			level = field
		}

		if _, ok := btclog.LevelFromString(level); !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLogLevel,
				level)
		}

		if !isPair {
			levels.Global = level
			continue
		}

		if _, ok := known[subsystem]; !ok {
			return nil, fmt.Errorf("%w %q, supported subsystems "+
				"are %v", ErrUnknownSubsystem, subsystem,
				known.Names())
		}
		levels.Subsystems[subsystem] = level
	}

	return levels, nil
}

// Apply sets the parsed levels on logger.
func (d *DebugLevels) Apply(logger LeveledSubLogger) {
	if d.Global != "" {
		logger.SetLogLevels(d.Global)
	}

	subsystems := make([]string, 0, len(d.Subsystems))
	for subsystem := range d.Subsystems {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)

	for _, subsystem := range subsystems {
		logger.SetLogLevel(subsystem, d.Subsystems[subsystem])
	}
}

// ParseAndSetDebugLevels parses option against the subsystems of logger and
// applies it. Nothing is changed if option is invalid.
func ParseAndSetDebugLevels(option string, logger LeveledSubLogger) error {
	levels, err := ParseDebugLevels(option, logger.SubLoggers())
	if err != nil {
		return err
	}
	levels.Apply(logger)

	return nil
}
