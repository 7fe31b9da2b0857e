// Package log holds the dockyardd loggers, configured from the server flags.
package log

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gammadia/dockyard/server/flags"
	"github.com/spf13/viper"
)

// Base only carries the service attributes
var Base *slog.Logger

// logger is the server logger with default attributes
var logger *slog.Logger

// Init configures Base and the server logger. Every record carries the service version.
func Init(version string) error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: viper.GetBool(flags.LogSource),
		Level:     logLevel,
	}

	switch format := viper.GetString(flags.LogFormat); format {
	case "json":
		Base = slog.New(slog.NewJSONHandler(os.Stdout, &options))
	case "text":
		Base = slog.New(slog.NewTextHandler(os.Stdout, &options))
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}

	Base = Base.With("service", "dockyardd", "version", version)
	logger = Base.With("component", "server")
	slog.SetDefault(Base)
	return nil
}

// Proxies for slog.Logger methods

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

// Fatal logs at error level and exits the process.
func Fatal(msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
