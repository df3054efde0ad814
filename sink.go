package mqttstream

import "context"

// Sink publishes messages to the broker.
// Only Publish is accepted; subscriptions need a Flow.
type Sink struct {
	*stage[Publish]
}

// NewSink creates a Sink. Panics if conn is nil.
func NewSink(conn Connector, cfg Config) *Sink {
	s := newStage[Publish](conn, cfg, "sink")
	s.completeOnUpstreamFinish = true
	s.handle = func(p Publish) {
		if s.reserve() {
			s.publish(p.Message)
		}
	}
	return &Sink{stage: s}
}

// Pipe starts the client and publishes every message received on in.
// If MaxBufferSize publishes are still pending when the next one arrives,
// the stage fails with an *OverflowError.
// The returned channel is closed when in is closed, ctx is canceled or the
// stage fails; Err reports the failure.
// Returns pipe.ErrAlreadyStarted if the sink has already been started.
func (s *Sink) Pipe(ctx context.Context, in <-chan Publish) (<-chan struct{}, error) {
	if err := s.start(ctx, in, false); err != nil {
		return nil, err
	}
	return s.done, nil
}
