package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxsml/mqttstream"
	"github.com/fxsml/mqttstream/config"
	"github.com/fxsml/mqttstream/internal/test"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type run struct {
	out  *syncBuffer
	done chan error
}

func start(ctx context.Context, c *test.Client, stdin string, args ...string) run {
	connect := func(config.Broker, *slog.Logger) (mqttstream.Connector, error) {
		return c.Connector(), nil
	}
	cmd := newRootCmd(connect)
	r := run{out: &syncBuffer{}, done: make(chan error, 1)}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(r.out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs(args)
	go func() { r.done <- cmd.ExecuteContext(ctx) }()
	return r
}

func (r run) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("command did not finish")
		return nil
	}
}

func TestPub(t *testing.T) {
	c := test.NewClient()
	c.AutoComplete = true

	r := start(context.Background(), c, "one\ntwo\n", "pub", "alerts", "--qos", "1", "--retain", "--rate", "1000")
	if err := r.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ops := c.Ops()
	if len(ops) != 2 {
		t.Fatalf("Expected 2 publishes, got %d", len(ops))
	}
	for i, want := range []string{"one", "two"} {
		m := ops[i].Message
		if m.Topic != "alerts" || string(m.Payload) != want || m.QoS != 1 || !m.Retained {
			t.Errorf("publish %d: unexpected message %+v", i, m)
		}
	}
	if c.Stops() != 1 {
		t.Errorf("Expected client stopped once, got %d", c.Stops())
	}
}

func TestPub_RequiresTopic(t *testing.T) {
	r := start(context.Background(), test.NewClient(), "", "pub")
	if err := r.wait(t); err == nil {
		t.Error("expected error")
	}
}

func TestSub(t *testing.T) {
	c := test.NewClient()
	c.AutoComplete = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := start(ctx, c, "", "sub", "sensors/#", "--qos", "2")
	test.Eventually(t, func() bool { return c.Listeners() == 1 && len(c.Ops()) == 1 }, "source started")
	if f := c.Ops()[0].Filters; len(f) != 1 || f[0] != (mqttstream.TopicFilter{Topic: "sensors/#", QoS: 2}) {
		t.Errorf("unexpected subscription %v", f)
	}

	c.Deliver(mqttstream.Message{Topic: "sensors/1", Payload: []byte("21.5")})
	test.Eventually(t, func() bool {
		return strings.Contains(r.out.String(), `{"type":"message","topic":"sensors/1","payload":"21.5"}`)
	}, "message printed")
	if !strings.Contains(r.out.String(), `"type":"subscribed"`) {
		t.Errorf("Expected subscription ack in output %q", r.out.String())
	}

	cancel()
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSub_CloudEvents(t *testing.T) {
	c := test.NewClient()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := start(ctx, c, "", "sub", "a", "--format", "cloudevents", "--event-source", "/edge")
	test.Eventually(t, func() bool { return c.Listeners() == 1 }, "source started")

	c.Deliver(mqttstream.Message{Topic: "a", Payload: []byte("x")})
	test.Eventually(t, func() bool {
		out := r.out.String()
		return strings.Contains(out, `"type":"io.mqttstream.message"`) && strings.Contains(out, `"source":"/edge"`)
	}, "event printed")

	cancel()
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBridge(t *testing.T) {
	c := test.NewClient()
	c.AutoComplete = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdin := strings.Join([]string{
		`{"op":"subscribe","topics":["a/#"]}`,
		`garbage`,
		`{"op":"publish","topic":"a/1","payload":"on"}`,
		`{"op":"unsubscribe","topics":["a/#"]}`,
	}, "\n")
	r := start(ctx, c, stdin, "bridge")

	test.Eventually(t, func() bool { return len(c.Ops()) == 3 }, "operations forwarded")
	test.Eventually(t, func() bool {
		out := r.out.String()
		return strings.Contains(out, `"type":"subscribed"`) && strings.Contains(out, `"type":"unsubscribed"`)
	}, "acks printed")

	kinds := []test.OpKind{test.OpSubscribe, test.OpPublish, test.OpUnsubscribe}
	for i, op := range c.Ops() {
		if op.Kind != kinds[i] {
			t.Errorf("operation %d: expected %s, got %s", i, kinds[i], op.Kind)
		}
	}

	cancel()
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRoot_InvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{"sub", "a", "--format", "xml"},
		{"sub", "a", "--log-level", "loud"},
		{"sub", "a", "--broker", "http://nope"},
		{"sub", "a", "--config", "/does/not/exist.yaml"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			r := start(context.Background(), test.NewClient(), "", args...)
			if err := r.wait(t); err == nil {
				t.Error("expected error")
			}
		})
	}
}
