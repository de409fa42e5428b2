package debug

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // Errors only
	LevelInfo    = 1 // Important info (startup, captures stored)
	LevelLive    = 2 // Live info (sensor activity, suppressed triggers)
	LevelVerbose = 3 // Verbose (pipeline stages, configuration)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	out    io.Writer = os.Stdout
	logger           = newLogger(os.Stdout, LevelOff)
)

// Init initializes the debug system with a level (0-4).
// 0 = errors only
// 1 = important info (startup summary, stored captures)
// 2 = live info (sensor activity, suppressed triggers)
// 3 = verbose (pipeline stages, configuration values)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	logger = newLogger(out, level)
}

// SetOutput redirects all debug output to w, keeping the current level.
func SetOutput(w io.Writer) {
	out = w
	logger = newLogger(out, level)
}

func newLogger(w io.Writer, lvl int) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000", NoColor: true}
	return zerolog.New(cw).Level(zerologLevel(lvl)).With().Timestamp().Str("app", "raspicam").Logger()
}

func zerologLevel(lvl int) zerolog.Level {
	switch {
	case lvl >= LevelTrace:
		return zerolog.TraceLevel
	case lvl >= LevelVerbose:
		return zerolog.DebugLevel
	case lvl >= LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.ErrorLevel
	}
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// Logger returns the structured logger for lines that carry fields
// (capture id, stage, status code). Its level follows Init.
func Logger() *zerolog.Logger {
	return &logger
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Info().Msgf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo {
		logger.Info().Msg("═══════════════════════════════════════")
		logger.Info().Msgf("  %s", title)
		logger.Info().Msg("═══════════════════════════════════════")
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.Info().Msgf("  %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.Info().Str("stream", "live").Msgf(format, args...)
	}
}

// Sensor prints a sensor reading that changed the controller's view (level 2).
func Sensor(pin int, active bool) {
	if level >= LevelLive {
		logger.Info().Str("stream", "live").Int("pin", pin).Bool("active", active).Msg("sensor level changed")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.Debug().Msgf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		logger.Debug().Msgf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debug().Msgf("  %s", name)
		logger.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.Debug().Msgf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Trace().Msgf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.Trace().Str("op", operation).Int("pin", pin).Interface("value", value).Msg("gpio")
	}
}

// --- General functions ---

// Warn prints a warning. Warnings are shown from level 1.
func Warn(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Warn().Msgf(format, args...)
	}
}

// Error prints an error. Errors are printed at every level, including 0.
func Error(err error, format string, args ...interface{}) {
	logger.Error().Err(err).Msgf(format, args...)
}

// Fatal prints an error and exits the process with status 1.
func Fatal(err error, format string, args ...interface{}) {
	logger.Error().Err(err).Msgf(format, args...)
	os.Exit(1)
}
