// Package log wraps zerolog with a package logger, an Init(Config), and a
// set of With* helpers that attach the engine's own identifiers rather than
// generic request metadata.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger. Engine construction calls Init once;
// everything downstream (pipeline, subscription broker, sweeper) logs
// through child loggers derived from it.
var Logger zerolog.Logger

// Level is a string-keyed log level selector.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration, passed in via engine.Config.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the package logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// Sensible default so packages that log before Init (e.g. in tests
	// that never call engine.Initialize) don't panic on a zero Logger.
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// WithComponent creates a child logger scoped to one engine subsystem.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTreeID creates a child logger scoped to one tree.
func WithTreeID(treeID string) zerolog.Logger {
	return Logger.With().Str("tree_id", treeID).Logger()
}

// WithNodeID creates a child logger scoped to one node.
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithCommandID creates a child logger scoped to one command.
func WithCommandID(commandID string) zerolog.Logger {
	return Logger.With().Str("command_id", commandID).Logger()
}

// WithSubscriptionID creates a child logger scoped to one subscription.
func WithSubscriptionID(subID string) zerolog.Logger {
	return Logger.With().Str("subscription_id", subID).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}
