package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fxsml/mqttstream"
	"github.com/fxsml/mqttstream/cloudevents"
	"github.com/fxsml/mqttstream/config"
	"github.com/fxsml/mqttstream/paho"
)

const (
	formatJSON        = "json"
	formatCloudEvents = "cloudevents"
)

// connectFunc creates the connector used by all commands.
type connectFunc func(b config.Broker, logger *slog.Logger) (mqttstream.Connector, error)

func connectPaho(b config.Broker, logger *slog.Logger) (mqttstream.Connector, error) {
	opts, err := paho.FromConfig(b)
	if err != nil {
		return nil, err
	}
	opts.Logger = logger
	paho.SetLogger(logger, logger.Enabled(context.Background(), slog.LevelDebug))
	return paho.NewConnector(opts), nil
}

// flags holds the persistent flags.
type flags struct {
	config   string
	broker   string
	clientID string
	buffer   int
	qos      uint8
	logLevel string
	format   string
	source   string
}

// app is the state shared by all commands after flag parsing.
type app struct {
	file   config.File
	logger *slog.Logger
	conn   mqttstream.Connector
	format string
	events cloudevents.EventConfig
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) stageConfig(name string) mqttstream.Config {
	return mqttstream.Config{
		Name:          name,
		MaxBufferSize: a.file.Stage.MaxBufferSize,
		Logger:        a.logger,
	}
}

func (a *app) filters(topics []string) []mqttstream.TopicFilter {
	filters := make([]mqttstream.TopicFilter, len(topics))
	for i, t := range topics {
		filters[i] = mqttstream.TopicFilter{Topic: t, QoS: a.file.Stage.QoS}
	}
	return filters
}

func newRootCmd(connect connectFunc) *cobra.Command {
	var f flags
	a := &app{}

	root := &cobra.Command{
		Use:           "mqttstream",
		Short:         "Stream MQTT traffic between a broker and stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, f, connect)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "path to a YAML configuration file")
	pf.StringVarP(&f.broker, "broker", "b", "", "comma separated broker URLs")
	pf.StringVar(&f.clientID, "client-id", "", "MQTT client id")
	pf.IntVar(&f.buffer, "buffer", 0, "maximum buffered notifications and pending operations")
	pf.Uint8VarP(&f.qos, "qos", "q", 0, "QoS for subscriptions and publishes")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVarP(&f.format, "format", "f", formatJSON, "stdio format (json, cloudevents)")
	pf.StringVar(&f.source, "event-source", "", "CloudEvents source attribute")

	root.AddCommand(newSubCmd(a), newPubCmd(a), newBridgeCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command, f flags, connect connectFunc) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", f.logLevel)
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	switch f.format {
	case formatJSON, formatCloudEvents:
		a.format = f.format
	default:
		return fmt.Errorf("invalid format %q", f.format)
	}
	a.events = cloudevents.EventConfig{Source: f.source}

	file, err := config.Load(f.config)
	if err != nil {
		return err
	}
	pf := cmd.Flags()
	if pf.Changed("broker") {
		file.Broker.Servers = strings.Split(f.broker, ",")
	}
	if pf.Changed("client-id") {
		file.Broker.ClientID = f.clientID
	}
	if pf.Changed("buffer") {
		file.Stage.MaxBufferSize = f.buffer
	}
	if pf.Changed("qos") {
		file.Stage.QoS = f.qos
	}
	if err := file.Validate(); err != nil {
		return err
	}
	a.file = file

	conn, err := connect(file.Broker, a.logger)
	if err != nil {
		return err
	}
	a.conn = conn
	a.stdin = cmd.InOrStdin()
	a.stdout = cmd.OutOrStdout()
	return nil
}
