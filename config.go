package mqttstream

import (
	"log/slog"

	"github.com/fxsml/mqttstream/pipe"
)

// DefaultMaxBufferSize is used when Config.MaxBufferSize is not set.
const DefaultMaxBufferSize = 10

// Logger defines an interface for logging at different severity levels.
type Logger interface {
	// Debug logs a message at debug level.
	Debug(msg string, args ...any)
	// Info logs a message at info level.
	Info(msg string, args ...any)
	// Warn logs a message at warning level.
	Warn(msg string, args ...any)
	// Error logs a message at error level.
	Error(msg string, args ...any)
}

// Config configures a stage.
type Config struct {
	// Name identifies the stage in logs.
	// Default is "source", "sink" or "flow".
	Name string

	// MaxBufferSize bounds both the notification buffer and the number of
	// operations in flight. Reaching it fails the stage.
	// Default is 10.
	MaxBufferSize int

	// Decider decides whether a failed client operation fails the stage.
	// Default is pipe.StoppingDecider.
	Decider pipe.Decider

	// ErrorHandler is called for every error the stage observes: failed
	// client operations (before Decider is consulted) and overflow.
	// Default logs via Logger.
	ErrorHandler func(err error)

	// Logger is used for stage logging.
	// Default is slog.Default().
	Logger Logger
}

func (c Config) parse(name string) Config {
	if c.Name == "" {
		c.Name = name
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.Decider == nil {
		c.Decider = pipe.StoppingDecider
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ErrorHandler == nil {
		logger, stage := c.Logger, c.Name
		c.ErrorHandler = func(err error) {
			logger.Warn("MQTT operation failed", "stage", stage, "error", err)
		}
	}
	return c
}
