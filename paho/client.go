package paho

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fxsml/mqttstream"
)

var (
	// ErrClientStopped completes operations that were still pending when
	// the client stopped.
	ErrClientStopped = errors.New("paho: client stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("paho: client already started")

	// ErrSubscriptionRejected is returned when the broker refuses a topic
	// filter.
	ErrSubscriptionRejected = errors.New("paho: subscription rejected")
)

// subackFailure is the SUBACK return code for a refused filter.
const subackFailure = 0x80

// Client implements mqttstream.Client on top of the Eclipse Paho client.
//
// The client keeps reconnecting until stopped. Operations issued while
// disconnected are held and sent in order once a connection is
// established. Subscriptions are restored after a reconnect unless the
// broker resumed the session.
type Client struct {
	opts    Options
	newMQTT func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	mqtt      mqtt.Client
	listeners map[int]mqttstream.Listener
	nextID    int
	subs      map[string]byte
	backlog   []deferred
	pending   int
	connected bool
	started   bool
	stopped   bool

	stopping chan struct{}
	lost     chan error
}

type deferred struct {
	run func()
	tok *token
}

// New creates a Client. Nothing is connected before Start.
func New(opts Options) *Client {
	return &Client{
		opts:      opts.parse(),
		newMQTT:   mqtt.NewClient,
		listeners: make(map[int]mqttstream.Listener),
		subs:      make(map[string]byte),
		stopping:  make(chan struct{}),
		lost:      make(chan error, 1),
	}
}

// Start begins connecting in the background. The returned token is
// already completed; connection failures are reported to listeners.
func (c *Client) Start() mqttstream.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return completed(ErrAlreadyStarted)
	}
	if c.stopped {
		return completed(ErrClientStopped)
	}
	c.started = true

	opts := c.opts.clientOptions()
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	c.mqtt = c.newMQTT(opts)

	c.opts.Logger.Debug("Starting MQTT client", "client_id", c.opts.ClientID, "servers", c.opts.Servers)
	go c.connectLoop()
	return completed(nil)
}

// Stop disconnects and completes pending operations with
// ErrClientStopped. The token completes once paho has disconnected.
func (c *Client) Stop() mqttstream.Token {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return completed(nil)
	}
	c.stopped = true
	wasConnected := c.connected
	c.connected = false
	backlog := c.backlog
	c.backlog = nil
	started := c.started
	c.mu.Unlock()

	close(c.stopping)
	for _, d := range backlog {
		c.finish(d.tok, ErrClientStopped)
	}
	if !started {
		return completed(nil)
	}

	t := newToken()
	go func() {
		c.mqtt.Disconnect(uint(c.opts.Quiesce / time.Millisecond))
		c.opts.Logger.Debug("MQTT client stopped", "client_id", c.opts.ClientID)
		c.each(func(l mqttstream.Listener) {
			l.OnDisconnected(mqttstream.ConnectResult{}, nil, wasConnected, mqttstream.DisconnectClientStopped)
		})
		t.complete(nil)
	}()
	return t
}

// Publish sends msg. The token completes when the broker acknowledged it
// according to its QoS.
func (c *Client) Publish(msg mqttstream.Message) mqttstream.Token {
	return c.do(func(m mqtt.Client) mqtt.Token {
		return m.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	}, nil)
}

// Subscribe subscribes to filters. Messages are delivered to listeners.
func (c *Client) Subscribe(filters ...mqttstream.TopicFilter) mqttstream.Token {
	topics := make(map[string]byte, len(filters))
	for _, f := range filters {
		topics[f.Topic] = f.QoS
	}
	return c.do(func(m mqtt.Client) mqtt.Token {
		return m.SubscribeMultiple(topics, c.onMessage)
	}, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		maps.Copy(c.subs, topics)
	})
}

// Unsubscribe removes subscriptions for topics.
func (c *Client) Unsubscribe(topics ...string) mqttstream.Token {
	return c.do(func(m mqtt.Client) mqtt.Token {
		return m.Unsubscribe(topics...)
	}, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, t := range topics {
			delete(c.subs, t)
		}
	})
}

// AddListener registers l and returns a function that removes it.
func (c *Client) AddListener(l mqttstream.Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// PendingCount returns the number of operations not completed yet,
// including those held while disconnected.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Client) do(op func(mqtt.Client) mqtt.Token, onSuccess func()) mqttstream.Token {
	t := newToken()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		t.complete(ErrClientStopped)
		return t
	}
	c.pending++
	run := func() { c.track(op(c.mqtt), t, onSuccess) }
	if !c.connected {
		c.backlog = append(c.backlog, deferred{run: run, tok: t})
		c.mu.Unlock()
		return t
	}
	c.mu.Unlock()

	run()
	return t
}

func (c *Client) track(mt mqtt.Token, t *token, onSuccess func()) {
	go func() {
		select {
		case <-mt.Done():
		case <-c.stopping:
			c.finish(t, ErrClientStopped)
			return
		}
		err := mt.Error()
		if err == nil {
			err = subackError(mt)
		}
		if err == nil && onSuccess != nil {
			onSuccess()
		}
		c.finish(t, err)
	}()
}

func (c *Client) finish(t *token, err error) {
	c.mu.Lock()
	c.pending--
	c.mu.Unlock()
	t.complete(err)
}

func (c *Client) connectLoop() {
	wait := c.opts.ConnectRetryInterval
	for {
		select {
		case <-c.stopping:
			return
		default:
		}

		tok := c.mqtt.Connect()
		select {
		case <-tok.Done():
		case <-c.stopping:
			return
		}

		result := connectResult(tok)
		if err := tok.Error(); err != nil {
			c.opts.Logger.Warn("Connecting to broker failed", "client_id", c.opts.ClientID, "code", result.Code, "error", err, "retry_in", wait)
			c.each(func(l mqttstream.Listener) { l.OnConnectingFailed(result, err) })
			if !c.sleep(wait) {
				return
			}
			wait = min(2*wait, c.opts.MaxReconnectInterval)
			continue
		}
		wait = c.opts.ConnectRetryInterval

		c.onConnected(result)

		var err error
		select {
		case err = <-c.lost:
		case <-c.stopping:
			return
		}
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.opts.Logger.Warn("Connection to broker lost", "client_id", c.opts.ClientID, "error", err)
		c.each(func(l mqttstream.Listener) {
			l.OnDisconnected(result, err, true, mqttstream.DisconnectConnectionLost)
		})
		if c.opts.DisableAutoReconnect {
			return
		}
	}
}

// onConnected restores subscriptions, then releases held operations in
// the order they were issued.
func (c *Client) onConnected(result mqttstream.ConnectResult) {
	c.mu.Lock()
	subs := maps.Clone(c.subs)
	c.mu.Unlock()

	if len(subs) > 0 && !result.SessionPresent {
		tok := c.mqtt.SubscribeMultiple(subs, c.onMessage)
		go func() {
			select {
			case <-tok.Done():
			case <-c.stopping:
				return
			}
			err := tok.Error()
			if err == nil {
				err = subackError(tok)
			}
			if err != nil {
				c.opts.Logger.Error("Restoring subscriptions failed", "client_id", c.opts.ClientID, "error", err)
			}
		}()
	}

	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		if len(c.backlog) == 0 {
			c.connected = true
			c.mu.Unlock()
			break
		}
		backlog := c.backlog
		c.backlog = nil
		c.mu.Unlock()
		for _, d := range backlog {
			d.run()
		}
	}

	c.opts.Logger.Info("Connected to broker", "client_id", c.opts.ClientID, "session_present", result.SessionPresent)
	c.each(func(l mqttstream.Listener) { l.OnConnected(result) })
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	select {
	case c.lost <- err:
	default:
	}
}

func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := mqttstream.Message{
		Topic:     m.Topic(),
		Payload:   m.Payload(),
		QoS:       m.Qos(),
		Retained:  m.Retained(),
		Duplicate: m.Duplicate(),
		MessageID: m.MessageID(),
	}
	c.each(func(l mqttstream.Listener) { l.OnMessage(msg) })
}

func (c *Client) each(fn func(mqttstream.Listener)) {
	c.mu.Lock()
	ls := make([]mqttstream.Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stopping:
		return false
	}
}

// connectResult reads the CONNACK fields if tok carries them.
func connectResult(tok mqtt.Token) mqttstream.ConnectResult {
	ct, ok := tok.(interface {
		ReturnCode() byte
		SessionPresent() bool
	})
	if !ok {
		return mqttstream.ConnectResult{}
	}
	return mqttstream.ConnectResult{
		Code:           mqttstream.ConnectCode(ct.ReturnCode()),
		SessionPresent: ct.SessionPresent(),
	}
}

// subackError reports refused filters of a completed subscribe token.
func subackError(tok mqtt.Token) error {
	st, ok := tok.(interface{ Result() map[string]byte })
	if !ok {
		return nil
	}
	for topic, code := range st.Result() {
		if code == subackFailure {
			return fmt.Errorf("%w: %s", ErrSubscriptionRejected, topic)
		}
	}
	return nil
}

// Connector creates paho clients that share Options.
type Connector struct {
	opts    Options
	newMQTT func(*mqtt.ClientOptions) mqtt.Client
}

// NewConnector returns a Connector for opts. Every client gets its own
// generated id unless opts.ClientID is set.
func NewConnector(opts Options) *Connector {
	return &Connector{opts: opts}
}

// NewClient implements mqttstream.Connector.
func (c *Connector) NewClient() mqttstream.Client {
	cl := New(c.opts)
	if c.newMQTT != nil {
		cl.newMQTT = c.newMQTT
	}
	return cl
}
