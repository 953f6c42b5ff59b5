package app

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/teleporter/pkg/logging"
)

// NewLogger creates a configured logger based on the application
// configuration. Log level precedence (highest to lowest):
//  1. --log-level flag (explicit always wins)
//  2. -v/--verbose flag (shortcut for debug)
//  3. -q/--quiet flag (shortcut for warn)
//  4. LOG_LEVEL environment variable
//  5. Default (info)
func NewLogger(config *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(determineLogLevel(config))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	switch {
	case config.LogFormat == "json":
		logger = logging.NewJSON(os.Stderr)
	case config.LogFormat == "console":
		logger = consoleLogger(config.NoColor)
	default: // auto: console on a terminal, JSON otherwise
		if stderrIsTerminal() {
			logger = consoleLogger(config.NoColor)
		} else {
			logger = logging.NewJSON(os.Stderr)
		}
	}

	logger = logger.Level(level)
	logging.SetDefault(logger)
	return logger
}

func consoleLogger(noColor bool) zerolog.Logger {
	return logging.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    noColor || os.Getenv("NO_COLOR") != "",
	})
}

// determineLogLevel determines the log level using clear precedence rules.
func determineLogLevel(config *Config) string {
	if config.LogLevel != "" {
		validated := validateLogLevel(config.LogLevel)
		if validated != config.LogLevel {
			fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using %q\n", config.LogLevel, validated)
		}
		return validated
	}

	if config.Verbose && config.Quiet {
		fmt.Fprintf(os.Stderr, "Warning: both --verbose and --quiet specified, using --quiet\n")
		return "warn"
	}
	if config.Verbose {
		return "debug"
	}
	if config.Quiet {
		return "warn"
	}

	return "info"
}

// validateLogLevel validates a log level string, falling back to "info".
func validateLogLevel(level string) string {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return level
	}
	return "info"
}

// stderrIsTerminal checks if stderr is attached to a terminal.
func stderrIsTerminal() bool {
	fileInfo, err := os.Stderr.Stat()
	return err == nil && (fileInfo.Mode()&os.ModeCharDevice) != 0
}
