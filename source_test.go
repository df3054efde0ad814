package mqttstream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxsml/mqttstream"
	"github.com/fxsml/mqttstream/internal/test"
	"github.com/fxsml/mqttstream/pipe"
)

func startSource(t *testing.T, c *test.Client, filters []mqttstream.TopicFilter, cfg mqttstream.Config) (*mqttstream.Source, <-chan mqttstream.Notification, context.CancelFunc) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = test.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	src := mqttstream.NewSource(c.Connector(), filters, cfg)
	out, err := src.Generate(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	test.Eventually(t, func() bool { return c.Listeners() == 1 }, "listener registered")
	return src, out, cancel
}

func TestSource_DeliversBufferedEventsInOrder(t *testing.T) {
	c := test.NewClient()
	src, out, _ := startSource(t, c, nil, mqttstream.Config{})

	c.Connect(mqttstream.ConnectResult{SessionPresent: true})
	for _, topic := range []string{"a", "b", "c"} {
		c.Deliver(mqttstream.Message{Topic: topic, Payload: []byte(topic)})
	}
	lostErr := errors.New("connection reset")
	c.Disconnect(lostErr, true, mqttstream.DisconnectConnectionLost)

	test.Eventually(t, func() bool { return src.State() == mqttstream.StateRunning }, "source running")
	// Give the stage time to queue everything before demand resumes.
	time.Sleep(20 * time.Millisecond)

	n, _ := test.Receive(t, out)
	if conn, ok := n.(mqttstream.Connected); !ok || !conn.Result.SessionPresent {
		t.Fatalf("Expected Connected with session present, got %#v", n)
	}
	for _, want := range []string{"a", "b", "c"} {
		n, _ := test.Receive(t, out)
		r, ok := n.(mqttstream.Received)
		if !ok {
			t.Fatalf("Expected Received, got %#v", n)
		}
		if r.Message.Topic != want || string(r.Message.Payload) != want {
			t.Errorf("Expected %q, got %+v", want, r.Message)
		}
	}
	n, _ = test.Receive(t, out)
	d, ok := n.(mqttstream.Disconnected)
	if !ok {
		t.Fatalf("Expected Disconnected, got %#v", n)
	}
	if !d.WasConnected || d.Reason != mqttstream.DisconnectConnectionLost || !errors.Is(d.Err, lostErr) {
		t.Errorf("unexpected disconnect %+v", d)
	}
}

func TestSource_ConnectionFailedIsNotAnError(t *testing.T) {
	c := test.NewClient()
	src, out, _ := startSource(t, c, nil, mqttstream.Config{})

	refused := errors.New("not authorized")
	c.FailConnect(mqttstream.ConnectResult{Code: mqttstream.ConnectRefusedNotAuthorized}, refused)

	n, _ := test.Receive(t, out)
	f, ok := n.(mqttstream.ConnectionFailed)
	if !ok {
		t.Fatalf("Expected ConnectionFailed, got %#v", n)
	}
	if f.Result.Code != mqttstream.ConnectRefusedNotAuthorized || !errors.Is(f.Err, refused) {
		t.Errorf("unexpected notification %+v", f)
	}
	if src.Err() != nil || src.State() != mqttstream.StateRunning {
		t.Errorf("Expected running source, got state %v err %v", src.State(), src.Err())
	}
}

func TestSource_OverflowFailsStage(t *testing.T) {
	c := test.NewClient()
	errs := &test.Errors{}
	src, out, _ := startSource(t, c, nil, mqttstream.Config{
		MaxBufferSize: 3,
		Decider:       pipe.ResumingDecider,
		ErrorHandler:  errs.Handle,
	})

	// Outstanding demand takes Connected directly.
	got := make(chan mqttstream.Notification)
	go func() { got <- <-out }()
	time.Sleep(10 * time.Millisecond)
	c.Connect(mqttstream.ConnectResult{})
	if n, _ := test.Receive(t, got); n == nil {
		t.Fatal("Expected Connected")
	}

	c.Deliver(mqttstream.Message{Topic: "a"})
	c.Deliver(mqttstream.Message{Topic: "b"})
	c.Deliver(mqttstream.Message{Topic: "c"})

	select {
	case <-src.Done():
	case <-time.After(time.Second):
		t.Fatal("source did not stop after overflow")
	}

	if !errors.Is(src.Err(), mqttstream.ErrBufferOverflow) {
		t.Fatalf("Expected ErrBufferOverflow, got %v", src.Err())
	}
	if src.State() != mqttstream.StateFailed {
		t.Errorf("Expected StateFailed, got %v", src.State())
	}
	if _, ok := <-out; ok {
		t.Error("Expected output channel to be closed")
	}
	if c.Stops() != 1 {
		t.Errorf("Expected client stopped once, got %d", c.Stops())
	}
	if c.Listeners() != 0 {
		t.Errorf("Expected listener removed, got %d", c.Listeners())
	}
	if n := len(errs.All()); n != 1 {
		t.Errorf("Expected overflow reported once, got %d", n)
	}
}

func TestSource_SubscribesOnActivation(t *testing.T) {
	c := test.NewClient()
	filters := []mqttstream.TopicFilter{{Topic: "sensors/#", QoS: 1}}
	src, out, _ := startSource(t, c, filters, mqttstream.Config{})

	test.Eventually(t, func() bool { return len(c.Ops()) == 1 }, "subscribe issued")
	op := c.Ops()[0]
	if op.Kind != test.OpSubscribe || len(op.Filters) != 1 || op.Filters[0] != filters[0] {
		t.Fatalf("unexpected operation %+v", op)
	}
	if c.Starts() != 1 {
		t.Errorf("Expected client started once, got %d", c.Starts())
	}
	if src.Pending() != 1 {
		t.Errorf("Expected 1 pending operation, got %d", src.Pending())
	}

	op.Token.Complete(nil)
	n, _ := test.Receive(t, out)
	s, ok := n.(mqttstream.Subscribed)
	if !ok || !s.Success || s.Err != nil {
		t.Fatalf("Expected successful Subscribed, got %#v", n)
	}
	test.Eventually(t, func() bool { return src.Pending() == 0 }, "pending drained")
}

func TestSource_SubscribeFailure(t *testing.T) {
	subErr := errors.New("subscribe rejected")

	t.Run("Resume", func(t *testing.T) {
		c := test.NewClient()
		src, out, _ := startSource(t, c, mqttstream.Topics("x"), mqttstream.Config{Decider: pipe.ResumingDecider})

		test.Eventually(t, func() bool { return len(c.Ops()) == 1 }, "subscribe issued")
		c.Ops()[0].Token.Complete(subErr)

		n, _ := test.Receive(t, out)
		s, ok := n.(mqttstream.Subscribed)
		if !ok || s.Success || !errors.Is(s.Err, subErr) {
			t.Fatalf("Expected failed Subscribed, got %#v", n)
		}
		if src.Err() != nil {
			t.Errorf("Expected no stage error, got %v", src.Err())
		}
	})

	t.Run("Stop", func(t *testing.T) {
		c := test.NewClient()
		src, out, _ := startSource(t, c, mqttstream.Topics("x"), mqttstream.Config{})

		test.Eventually(t, func() bool { return len(c.Ops()) == 1 }, "subscribe issued")
		c.Ops()[0].Token.Complete(subErr)

		if _, ok := test.Receive(t, out); ok {
			t.Fatal("Expected output channel to be closed")
		}
		<-src.Done()
		if !errors.Is(src.Err(), subErr) {
			t.Errorf("Expected %v, got %v", subErr, src.Err())
		}
	})
}

func TestSource_StartFailure(t *testing.T) {
	startErr := errors.New("invalid options")

	t.Run("Stop", func(t *testing.T) {
		c := test.NewClient()
		c.StartToken = test.CompletedToken(startErr)
		src := mqttstream.NewSource(c.Connector(), nil, mqttstream.Config{Logger: test.Discard()})
		out, err := src.Generate(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, ok := test.Receive(t, out); ok {
			t.Fatal("Expected output channel to be closed")
		}
		<-src.Done()
		if !errors.Is(src.Err(), startErr) {
			t.Errorf("Expected %v, got %v", startErr, src.Err())
		}
		if c.Stops() != 1 {
			t.Errorf("Expected client stopped after failure, got %d", c.Stops())
		}
	})

	t.Run("Resume", func(t *testing.T) {
		c := test.NewClient()
		c.StartToken = test.CompletedToken(startErr)
		errs := &test.Errors{}
		src, out, _ := startSource(t, c, nil, mqttstream.Config{
			Decider:      pipe.ResumingDecider,
			ErrorHandler: errs.Handle,
		})

		test.Eventually(t, func() bool { return len(errs.All()) == 1 }, "start failure reported")
		c.Deliver(mqttstream.Message{Topic: "still/running"})
		n, _ := test.Receive(t, out)
		if _, ok := n.(mqttstream.Received); !ok {
			t.Errorf("Expected Received, got %#v", n)
		}
		if src.Err() != nil {
			t.Errorf("Expected no stage error, got %v", src.Err())
		}
	})
}

func TestSource_CancelDeregistersListener(t *testing.T) {
	c := test.NewClient()
	src, out, cancel := startSource(t, c, nil, mqttstream.Config{})

	cancel()
	if _, ok := test.Receive(t, out); ok {
		t.Fatal("Expected output channel to be closed")
	}
	<-src.Done()

	if c.Listeners() != 0 {
		t.Errorf("Expected no listeners, got %d", c.Listeners())
	}
	if c.Stops() != 1 {
		t.Errorf("Expected client stopped once, got %d", c.Stops())
	}
	if src.State() != mqttstream.StateStopped || src.Err() != nil {
		t.Errorf("Expected clean stop, got state %v err %v", src.State(), src.Err())
	}

	// Events after deactivation have no effect.
	c.Connect(mqttstream.ConnectResult{})
	c.Deliver(mqttstream.Message{Topic: "late"})
}

func TestSource_StopFailureEscalatedAfterTeardown(t *testing.T) {
	c := test.NewClient()
	c.StopToken = test.NewToken()
	errs := &test.Errors{}
	src, out, cancel := startSource(t, c, nil, mqttstream.Config{ErrorHandler: errs.Handle})

	cancel()
	if _, ok := test.Receive(t, out); ok {
		t.Fatal("Expected output channel to be closed")
	}
	select {
	case <-src.Done():
		t.Fatal("Done closed before the client stopped")
	case <-time.After(20 * time.Millisecond):
	}

	stopErr := errors.New("disconnect timed out")
	c.StopToken.Complete(stopErr)
	<-src.Done()

	if !errors.Is(src.Err(), stopErr) {
		t.Errorf("Expected %v, got %v", stopErr, src.Err())
	}
	if src.State() != mqttstream.StateFailed {
		t.Errorf("Expected StateFailed, got %v", src.State())
	}
	if len(errs.All()) != 1 {
		t.Errorf("Expected stop failure reported once, got %v", errs.All())
	}
}

func TestSource_ErrAlreadyStarted(t *testing.T) {
	c := test.NewClient()
	src, _, _ := startSource(t, c, nil, mqttstream.Config{})

	if _, err := src.Generate(context.Background()); !errors.Is(err, pipe.ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSource_ImplementsGenerator(t *testing.T) {
	var _ pipe.Generator[mqttstream.Notification] = &mqttstream.Source{}
}
