package paho

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger adapts a slog.Logger to paho's package level loggers.
type Logger struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (l Logger) Println(v ...any) {
	l.log(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l Logger) Printf(format string, v ...any) {
	l.log(fmt.Sprintf(format, v...))
}

func (l Logger) log(msg string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), l.Level, msg, "component", "paho")
}

// SetLogger routes paho's internal logging to logger. Errors and critical
// messages are always routed; debug output only if debug is set.
func SetLogger(logger *slog.Logger, debug bool) {
	mqtt.ERROR = Logger{Logger: logger, Level: slog.LevelError}
	mqtt.CRITICAL = Logger{Logger: logger, Level: slog.LevelError}
	mqtt.WARN = Logger{Logger: logger, Level: slog.LevelWarn}
	if debug {
		mqtt.DEBUG = Logger{Logger: logger, Level: slog.LevelDebug}
	} else {
		mqtt.DEBUG = mqtt.NOOPLogger{}
	}
}
