package paho

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/fxsml/mqttstream"
	"github.com/fxsml/mqttstream/config"
)

// Options configures a Client.
type Options struct {
	// Servers are broker URLs tried in order.
	// Default is tcp://localhost:1883.
	Servers []string
	// ClientID identifies the session at the broker.
	// Default is "mqttstream-" followed by random hex characters.
	ClientID string
	Username string
	Password string

	// CleanSession starts every connection without broker-side state.
	CleanSession bool
	// KeepAlive is the ping interval. Default is 30s.
	KeepAlive time.Duration
	// ConnectTimeout bounds a single connection attempt. Default is 30s.
	ConnectTimeout time.Duration
	// ConnectRetryInterval is the first wait after a failed attempt; it
	// doubles up to MaxReconnectInterval. Default is 5s.
	ConnectRetryInterval time.Duration
	// MaxReconnectInterval caps the wait between attempts. Default is 2m.
	MaxReconnectInterval time.Duration
	// DisableAutoReconnect stops the client from reconnecting after a lost
	// connection.
	DisableAutoReconnect bool
	// Quiesce is how long Stop waits for in-flight work. Default is 250ms.
	Quiesce time.Duration

	// TLSConfig is used for ssl:// and wss:// servers.
	TLSConfig *tls.Config

	// Logger is used for client logging.
	// Default is slog.Default().
	Logger mqttstream.Logger
}

func (o Options) parse() Options {
	if len(o.Servers) == 0 {
		o.Servers = []string{"tcp://localhost:1883"}
	}
	if o.ClientID == "" {
		o.ClientID = newClientID()
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.ConnectRetryInterval <= 0 {
		o.ConnectRetryInterval = 5 * time.Second
	}
	if o.MaxReconnectInterval < o.ConnectRetryInterval {
		o.MaxReconnectInterval = max(2*time.Minute, o.ConnectRetryInterval)
	}
	if o.Quiesce < 0 {
		o.Quiesce = 0
	} else if o.Quiesce == 0 {
		o.Quiesce = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// clientOptions translates o into paho options. Reconnecting is handled by
// the Client, so paho's own retry logic stays disabled.
func (o Options) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	for _, s := range o.Servers {
		opts.AddBroker(s)
	}
	opts.SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetCleanSession(o.CleanSession).
		SetKeepAlive(o.KeepAlive).
		SetConnectTimeout(o.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetResumeSubs(false).
		SetOrderMatters(true)
	if o.TLSConfig != nil {
		opts.SetTLSConfig(o.TLSConfig)
	}
	return opts
}

// FromConfig builds Options from a broker configuration section. TLS
// certificates are read from disk.
func FromConfig(b config.Broker) (Options, error) {
	o := Options{
		Servers:              b.Servers,
		ClientID:             b.ClientID,
		Username:             b.Username,
		Password:             b.Password,
		CleanSession:         b.CleanSession,
		KeepAlive:            b.KeepAlive,
		ConnectTimeout:       b.ConnectTimeout,
		ConnectRetryInterval: b.ConnectRetryInterval,
		MaxReconnectInterval: b.MaxReconnectInterval,
		Quiesce:              b.Quiesce,
	}
	if b.TLS.Enabled() {
		tlsCfg, err := newTLSConfig(b.TLS)
		if err != nil {
			return Options{}, fmt.Errorf("paho: tls: %w", err)
		}
		o.TLSConfig = tlsCfg
	}
	return o, nil
}

func newTLSConfig(c config.TLS) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for test brokers
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in " + c.CAFile)
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// newClientID returns an id that fits the 23 character limit of MQTT 3.1.
func newClientID() string {
	return "mqttstream-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
