package paho

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fxsml/mqttstream"
)

type fakeToken struct {
	once    sync.Once
	done    chan struct{}
	err     error
	code    byte
	session bool
	result  map[string]byte
}

func newFakeToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }
func (t *fakeToken) ReturnCode() byte { return t.code }
func (t *fakeToken) SessionPresent() bool { return t.session }
func (t *fakeToken) Result() map[string]byte { return t.result }

type fakeCall struct {
	kind     string
	topic    string
	qos      byte
	retained bool
	payload  any
	filters  map[string]byte
	topics   []string
	tok      *fakeToken
}

// fakeMQTT is a scriptable mqtt.Client.
type fakeMQTT struct {
	opts *mqtt.ClientOptions

	mu           sync.Mutex
	autoComplete bool
	connects     []*fakeToken
	calls        []fakeCall
	quiesce      []uint
}

func (f *fakeMQTT) factory(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	return f
}

func (f *fakeMQTT) IsConnected() bool { return true }
func (f *fakeMQTT) IsConnectionOpen() bool { return true }

func (f *fakeMQTT) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := newFakeToken()
	f.connects = append(f.connects, tok)
	return tok
}

func (f *fakeMQTT) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quiesce = append(f.quiesce, quiesce)
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	return f.record(fakeCall{kind: "publish", topic: topic, qos: qos, retained: retained, payload: payload})
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, _ mqtt.MessageHandler) mqtt.Token {
	return f.record(fakeCall{kind: "subscribe", filters: map[string]byte{topic: qos}})
}

func (f *fakeMQTT) SubscribeMultiple(filters map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return f.record(fakeCall{kind: "subscribe", filters: filters})
}

func (f *fakeMQTT) Unsubscribe(topics ...string) mqtt.Token {
	return f.record(fakeCall{kind: "unsubscribe", topics: topics})
}

func (f *fakeMQTT) AddRoute(string, mqtt.MessageHandler) {}

func (f *fakeMQTT) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (f *fakeMQTT) record(c fakeCall) mqtt.Token {
	c.tok = newFakeToken()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.autoComplete {
		c.tok.complete(nil)
	}
	f.calls = append(f.calls, c)
	return c.tok
}

func (f *fakeMQTT) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

func (f *fakeMQTT) Connects() []*fakeToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeToken(nil), f.connects...)
}

// connect waits for the n-th connection attempt and completes it.
func (f *fakeMQTT) connect(t *testing.T, n int, code byte, session bool, err error) {
	t.Helper()
	eventually(t, func() bool { return len(f.Connects()) > n }, "connection attempt")
	ct := f.Connects()[n]
	ct.code = code
	ct.session = session
	ct.complete(err)
}

func (f *fakeMQTT) loseConnection(err error) {
	f.mu.Lock()
	handler := f.opts.OnConnectionLost
	f.mu.Unlock()
	handler(f, err)
}

func (f *fakeMQTT) deliver(m mqtt.Message) {
	f.mu.Lock()
	handler := f.opts.DefaultPublishHandler
	f.mu.Unlock()
	handler(f, m)
}

type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func (m fakeMessage) Duplicate() bool { return false }
func (m fakeMessage) Qos() byte { return m.qos }
func (m fakeMessage) Retained() bool { return false }
func (m fakeMessage) Topic() string { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 7 }
func (m fakeMessage) Payload() []byte { return m.payload }
func (m fakeMessage) Ack() {}

// recorder is a mqttstream.Listener that forwards events to a channel.
type recorder struct {
	events chan any
}

func newRecorder() *recorder {
	return &recorder{events: make(chan any, 32)}
}

type connectingFailed struct {
	result mqttstream.ConnectResult
	err    error
}

type disconnected struct {
	err          error
	wasConnected bool
	reason       mqttstream.DisconnectReason
}

func (r *recorder) OnConnected(result mqttstream.ConnectResult) { r.events <- result }

func (r *recorder) OnDisconnected(_ mqttstream.ConnectResult, err error, wasConnected bool, reason mqttstream.DisconnectReason) {
	r.events <- disconnected{err: err, wasConnected: wasConnected, reason: reason}
}

func (r *recorder) OnConnectingFailed(result mqttstream.ConnectResult, err error) {
	r.events <- connectingFailed{result: result, err: err}
}

func (r *recorder) OnMessage(msg mqttstream.Message) { r.events <- msg }

func (r *recorder) next(t *testing.T) any {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for listener event")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
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

func waitToken(t *testing.T, tok mqttstream.Token) error {
	t.Helper()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for token")
		return nil
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startClient(t *testing.T, opts Options) (*Client, *fakeMQTT, *recorder) {
	t.Helper()
	f := &fakeMQTT{}
	if opts.Logger == nil {
		opts.Logger = discard()
	}
	c := New(opts)
	c.newMQTT = f.factory
	rec := newRecorder()
	c.AddListener(rec)
	if err := waitToken(t, c.Start()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c, f, rec
}
