package mqttstream

import "context"

// FlowConfig configures a Flow.
type FlowConfig struct {
	Config

	// Topics are subscribed on activation, in addition to Subscribe
	// operations received on the inlet.
	Topics []TopicFilter

	// CompleteOnUpstreamFinish completes the stage when the operation
	// channel is closed. By default notifications keep flowing until the
	// context is canceled.
	CompleteOnUpstreamFinish bool
}

// Flow publishes, subscribes and unsubscribes as instructed by incoming
// operations and emits broker notifications.
// It implements pipe.Pipe[Operation, Notification].
type Flow struct {
	*stage[Operation]
}

// NewFlow creates a Flow. Panics if conn is nil.
func NewFlow(conn Connector, cfg FlowConfig) *Flow {
	s := newStage[Operation](conn, cfg.Config, "flow")
	s.topics = cfg.Topics
	s.completeOnUpstreamFinish = cfg.CompleteOnUpstreamFinish
	s.handle = func(op Operation) {
		switch op := op.(type) {
		case Publish:
			if s.reserve() {
				s.publish(op.Message)
			}
		case Subscribe:
			if s.reserve() {
				s.subscribe(op.Filters)
			}
		case Unsubscribe:
			if s.reserve() {
				s.unsubscribe(op.Topics)
			}
		default:
			s.cfg.Logger.Warn("Dropping unsupported operation", "stage", s.cfg.Name, "operation", op)
		}
	}
	return &Flow{stage: s}
}

// Pipe starts the client, forwards operations from in and returns the
// notification channel. Operations are accepted independently of demand
// on the returned channel.
// Returns pipe.ErrAlreadyStarted if the flow has already been started.
func (f *Flow) Pipe(ctx context.Context, in <-chan Operation) (<-chan Notification, error) {
	if err := f.start(ctx, in, true); err != nil {
		return nil, err
	}
	return f.out.out, nil
}
