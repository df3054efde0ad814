package mqttstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxsml/mqttstream/pipe"
)

// State is the lifecycle state of a stage.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stage is the logic shared by Source, Sink and Flow. All fields below
// started are owned by the stage goroutine; client goroutines reach them
// only through box.
type stage[In any] struct {
	cfg  Config
	conn Connector

	// out is nil for stages without an outlet.
	out *relay[Notification]
	// handle processes one element from the inlet.
	handle func(In)
	// topics are subscribed on activation.
	topics []TopicFilter
	// completeOnUpstreamFinish completes the stage when the inlet closes.
	completeOnUpstreamFinish bool

	mu      sync.Mutex
	started bool
	err     error

	state atomic.Int32
	done  chan struct{}

	// pending counts operations handed to the client whose completion
	// the stage has not observed yet.
	pending atomic.Int32

	client   Client
	box      *mailbox
	unlisten func()
	finished bool
}

func newStage[In any](conn Connector, cfg Config, name string) *stage[In] {
	if conn == nil {
		panic("mqttstream: connector cannot be nil")
	}
	return &stage[In]{
		cfg:  cfg.parse(name),
		conn: conn,
		done: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *stage[In]) State() State {
	return State(s.state.Load())
}

// Done is closed after the stage stopped and its client was released.
func (s *stage[In]) Done() <-chan struct{} {
	return s.done
}

// Pending returns the number of operations handed to the client whose
// completion has not been observed yet.
func (s *stage[In]) Pending() int {
	return int(s.pending.Load())
}

// Err returns the error that failed the stage, or nil.
func (s *stage[In]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stage[In]) start(ctx context.Context, in <-chan In, withOutlet bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return pipe.ErrAlreadyStarted
	}
	s.started = true
	s.client = s.conn.NewClient()
	s.box = newMailbox()
	if withOutlet {
		s.out = newRelay[Notification](s.cfg.MaxBufferSize)
	}
	go s.run(ctx, in)
	return nil
}

func (s *stage[In]) run(ctx context.Context, in <-chan In) {
	s.activate()
	for !s.finished {
		var demand chan<- Notification
		var head Notification
		if s.out != nil {
			demand, head = s.out.demand()
		}

		select {
		case <-ctx.Done():
			s.cfg.Logger.Debug("Stage canceled", "stage", s.cfg.Name)
			s.finished = true
		case <-s.box.ready():
			for _, fn := range s.box.take() {
				if s.finished {
					break
				}
				fn()
			}
		case demand <- head:
			s.out.pop()
		case v, ok := <-in:
			if !ok {
				in = nil
				s.cfg.Logger.Debug("Upstream finished", "stage", s.cfg.Name)
				if s.completeOnUpstreamFinish {
					s.finished = true
				}
				continue
			}
			s.handle(v)
		}
	}
	s.deactivate()
}

func (s *stage[In]) activate() {
	s.setState(StateStarting)
	s.cfg.Logger.Debug("Starting stage", "stage", s.cfg.Name, "max_buffer_size", s.cfg.MaxBufferSize)

	if s.out != nil {
		s.unlisten = s.client.AddListener(&lifecycle{
			box:    s.box,
			emit:   s.emit,
			logger: s.cfg.Logger,
			stage:  s.cfg.Name,
		})
	}

	s.watch(s.client.Start(), func(err error) {
		if err != nil {
			s.escalate(fmt.Errorf("start client: %w", err))
		}
	})

	if len(s.topics) > 0 {
		s.subscribe(s.topics)
	}

	s.setState(StateRunning)
}

func (s *stage[In]) deactivate() {
	if s.State() != StateFailed {
		s.setState(StateStopping)
	}
	s.box.close()
	if s.unlisten != nil {
		s.unlisten()
	}
	if s.out != nil {
		if dropped := s.out.close(); dropped > 0 {
			s.cfg.Logger.Debug("Discarded buffered notifications", "stage", s.cfg.Name, "count", dropped)
		}
	}

	tok := s.client.Stop()
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			err = fmt.Errorf("stop client: %w", err)
			s.cfg.ErrorHandler(err)
			if dir, cause := s.cfg.Decider.Decide(err); dir == pipe.Stop {
				s.mu.Lock()
				if s.err == nil {
					s.err = cause
				}
				s.mu.Unlock()
			}
		}
		if s.Err() != nil {
			s.setState(StateFailed)
		} else {
			s.setState(StateStopped)
		}
		s.cfg.Logger.Debug("Stage stopped", "stage", s.cfg.Name)
		close(s.done)
	}()
}

// watch posts fn with the token's error once tok completes. Completions
// arriving after the stage stopped are dropped.
func (s *stage[In]) watch(tok Token, fn func(error)) {
	go func() {
		select {
		case <-tok.Done():
		case <-s.box.closing():
			return
		}
		err := tok.Error()
		s.box.post(func() { fn(err) })
	}()
}

// emit offers n to the consumer. Overflow fails the stage without
// consulting the Decider.
func (s *stage[In]) emit(n Notification) {
	if s.out == nil {
		return
	}
	if err := s.out.offer(n); err != nil {
		s.cfg.ErrorHandler(err)
		s.fail(err)
	}
}

// reserve fails the stage if another operation would exceed MaxBufferSize.
func (s *stage[In]) reserve() bool {
	pending := s.Pending()
	if n := s.client.PendingCount(); n > pending {
		pending = n
	}
	if pending >= s.cfg.MaxBufferSize {
		err := &OverflowError{Resource: resourcePending, Capacity: s.cfg.MaxBufferSize}
		s.cfg.ErrorHandler(err)
		s.fail(err)
		return false
	}
	return true
}

func (s *stage[In]) publish(msg Message) {
	s.pending.Add(1)
	s.watch(s.client.Publish(msg), func(err error) {
		s.pending.Add(-1)
		if err != nil {
			s.escalate(fmt.Errorf("publish to %q: %w", msg.Topic, err))
		}
	})
}

func (s *stage[In]) subscribe(filters []TopicFilter) {
	s.pending.Add(1)
	s.watch(s.client.Subscribe(filters...), func(err error) {
		s.pending.Add(-1)
		if err != nil && !s.escalate(fmt.Errorf("subscribe: %w", err)) {
			return
		}
		s.emit(Subscribed{Filters: filters, Success: err == nil, Err: err})
	})
}

func (s *stage[In]) unsubscribe(topics []string) {
	s.pending.Add(1)
	s.watch(s.client.Unsubscribe(topics...), func(err error) {
		s.pending.Add(-1)
		if err != nil && !s.escalate(fmt.Errorf("unsubscribe: %w", err)) {
			return
		}
		s.emit(Unsubscribed{Topics: topics, Success: err == nil, Err: err})
	})
}

// escalate reports err and consults the Decider. It returns true if the
// stage keeps running.
func (s *stage[In]) escalate(err error) bool {
	s.cfg.ErrorHandler(err)
	dir, cause := s.cfg.Decider.Decide(err)
	if dir == pipe.Stop {
		s.fail(cause)
		return false
	}
	s.cfg.Logger.Warn("Resuming after failed operation", "stage", s.cfg.Name, "error", err)
	return true
}

// fail records the first fatal error and ends the loop.
func (s *stage[In]) fail(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setState(StateFailed)
	s.cfg.Logger.Error("Stage failed", "stage", s.cfg.Name, "error", err)
}

func (s *stage[In]) setState(st State) {
	s.state.Store(int32(st))
}
