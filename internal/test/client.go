// Package test provides a scriptable mqttstream.Client for stage tests.
package test

import (
	"sync"
	"testing"
	"time"

	"github.com/fxsml/mqttstream"
)

// Token is a manually completed mqttstream.Token.
type Token struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewToken returns a pending token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// CompletedToken returns a token that is already completed with err.
func CompletedToken(err error) *Token {
	t := NewToken()
	t.Complete(err)
	return t
}

// Complete resolves the token. Only the first call has an effect.
func (t *Token) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) Error() error {
	<-t.done
	return t.err
}

// OpKind identifies a recorded client operation.
type OpKind string

const (
	OpPublish     OpKind = "publish"
	OpSubscribe   OpKind = "subscribe"
	OpUnsubscribe OpKind = "unsubscribe"
)

// Op is a recorded client operation with its token.
type Op struct {
	Kind    OpKind
	Message mqttstream.Message
	Filters []mqttstream.TopicFilter
	Topics  []string
	Token   *Token
}

// Client implements mqttstream.Client. Operation tokens stay pending until
// completed by the test unless AutoComplete is set.
type Client struct {
	// StartToken is returned by Start; nil means completed without error.
	StartToken *Token
	// StopToken is returned by Stop; nil means completed without error.
	StopToken *Token
	// AutoComplete completes operation tokens immediately without error.
	AutoComplete bool
	// Pending is added to the count of uncompleted operations.
	Pending int

	mu        sync.Mutex
	listeners map[int]mqttstream.Listener
	nextID    int
	ops       []Op
	starts    int
	stops     int
	stopped   chan struct{}
}

// NewClient returns an idle Client.
func NewClient() *Client {
	return &Client{
		listeners: make(map[int]mqttstream.Listener),
		stopped:   make(chan struct{}),
	}
}

// Connector returns a Connector that always hands out c.
func (c *Client) Connector() mqttstream.Connector {
	return mqttstream.ConnectorFunc(func() mqttstream.Client { return c })
}

func (c *Client) Start() mqttstream.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.StartToken != nil {
		return c.StartToken
	}
	return CompletedToken(nil)
}

func (c *Client) Stop() mqttstream.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.stops == 1 {
		close(c.stopped)
	}
	if c.StopToken != nil {
		return c.StopToken
	}
	return CompletedToken(nil)
}

func (c *Client) Publish(msg mqttstream.Message) mqttstream.Token {
	return c.record(Op{Kind: OpPublish, Message: msg})
}

func (c *Client) Subscribe(filters ...mqttstream.TopicFilter) mqttstream.Token {
	return c.record(Op{Kind: OpSubscribe, Filters: filters})
}

func (c *Client) Unsubscribe(topics ...string) mqttstream.Token {
	return c.record(Op{Kind: OpUnsubscribe, Topics: topics})
}

func (c *Client) record(op Op) mqttstream.Token {
	op.Token = NewToken()
	if c.AutoComplete {
		op.Token.Complete(nil)
	}
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
	return op.Token
}

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

func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.Pending
	for _, op := range c.ops {
		select {
		case <-op.Token.Done():
		default:
			n++
		}
	}
	return n
}

// Ops returns a copy of the recorded operations.
func (c *Client) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.ops...)
}

// Listeners returns the number of registered listeners.
func (c *Client) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Starts returns how often Start was called.
func (c *Client) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Stops returns how often Stop was called.
func (c *Client) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Stopped is closed on the first call to Stop.
func (c *Client) Stopped() <-chan struct{} {
	return c.stopped
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

// Connect raises OnConnected.
func (c *Client) Connect(result mqttstream.ConnectResult) {
	c.each(func(l mqttstream.Listener) { l.OnConnected(result) })
}

// Disconnect raises OnDisconnected.
func (c *Client) Disconnect(err error, wasConnected bool, reason mqttstream.DisconnectReason) {
	c.each(func(l mqttstream.Listener) {
		l.OnDisconnected(mqttstream.ConnectResult{}, err, wasConnected, reason)
	})
}

// FailConnect raises OnConnectingFailed.
func (c *Client) FailConnect(result mqttstream.ConnectResult, err error) {
	c.each(func(l mqttstream.Listener) { l.OnConnectingFailed(result, err) })
}

// Deliver raises OnMessage.
func (c *Client) Deliver(msg mqttstream.Message) {
	c.each(func(l mqttstream.Listener) { l.OnMessage(msg) })
}

// Eventually fails t if cond does not hold within a second.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// Receive returns the next value from ch or fails t after a second.
func Receive[T any](t testing.TB, ch <-chan T) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for value")
		var zero T
		return zero, false
	}
}
