package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for unusable configuration.
var ErrInvalid = errors.New("config: invalid configuration")

// File is the configuration document read by the mqttstream command.
type File struct {
	Broker Broker `yaml:"broker"`
	Stage  Stage  `yaml:"stage"`
}

// Broker configures the connection to the MQTT broker.
type Broker struct {
	// Servers are broker URLs, for example tcp://localhost:1883 or
	// ssl://broker:8883. Tried in order.
	Servers []string `yaml:"servers"`
	// ClientID is generated when empty.
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	CleanSession bool          `yaml:"clean_session"`
	KeepAlive    time.Duration `yaml:"keep_alive"`
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ConnectRetryInterval is the wait between failed initial connection
	// attempts.
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	// MaxReconnectInterval caps the backoff after a lost connection.
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	// Quiesce is how long Disconnect waits for in-flight work.
	Quiesce time.Duration `yaml:"quiesce"`

	TLS TLS `yaml:"tls"`
}

// TLS configures certificates for ssl:// and wss:// servers.
type TLS struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Enabled reports whether any TLS setting is present.
func (t TLS) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.InsecureSkipVerify
}

// Stage configures the stream stages.
type Stage struct {
	// MaxBufferSize bounds buffered notifications and pending operations.
	MaxBufferSize int `yaml:"max_buffer_size"`
	// QoS is used for Topics and for published messages.
	QoS uint8 `yaml:"qos" env:"QOS"`
	// Topics are subscribed when the stage starts.
	Topics []string `yaml:"topics"`
	// CompleteOnUpstreamFinish stops a flow when its input ends.
	CompleteOnUpstreamFinish bool `yaml:"complete_on_upstream_finish"`
}

// Default returns the configuration used for unset values.
func Default() File {
	return File{
		Broker: Broker{
			Servers:              []string{"tcp://localhost:1883"},
			CleanSession:         true,
			KeepAlive:            30 * time.Second,
			ConnectTimeout:       30 * time.Second,
			ConnectRetryInterval: 5 * time.Second,
			MaxReconnectInterval: 2 * time.Minute,
			Quiesce:              250 * time.Millisecond,
		},
		Stage: Stage{
			MaxBufferSize: 10,
		},
	}
}

// Load reads the YAML file at path on top of Default, overlays environment
// variables and validates the result. An empty path skips the file.
func Load(path string) (File, error) {
	return Loader{}.LoadFile(path)
}

// LoadFile is Load with the loader's prefix and lookup.
func (l Loader) LoadFile(path string) (File, error) {
	f := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := l.Load("broker", &f.Broker); err != nil {
		return File{}, err
	}
	if err := l.Load("stage", &f.Stage); err != nil {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate reports the first unusable setting.
func (f File) Validate() error {
	if len(f.Broker.Servers) == 0 {
		return fmt.Errorf("%w: broker.servers is empty", ErrInvalid)
	}
	for _, s := range f.Broker.Servers {
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("%w: broker.servers: %v", ErrInvalid, err)
		}
		switch u.Scheme {
		case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		default:
			return fmt.Errorf("%w: broker.servers: unsupported scheme in %q", ErrInvalid, s)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: broker.servers: missing host in %q", ErrInvalid, s)
		}
	}
	if (f.Broker.TLS.CertFile == "") != (f.Broker.TLS.KeyFile == "") {
		return fmt.Errorf("%w: broker.tls: cert_file and key_file must be set together", ErrInvalid)
	}
	if f.Broker.KeepAlive < 0 || f.Broker.ConnectTimeout < 0 || f.Broker.Quiesce < 0 {
		return fmt.Errorf("%w: broker: negative duration", ErrInvalid)
	}
	if f.Stage.MaxBufferSize <= 0 {
		return fmt.Errorf("%w: stage.max_buffer_size must be positive", ErrInvalid)
	}
	if f.Stage.QoS > 2 {
		return fmt.Errorf("%w: stage.qos must be 0, 1 or 2", ErrInvalid)
	}
	return nil
}
