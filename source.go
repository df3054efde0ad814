package mqttstream

import "context"

// Source emits broker notifications for a fixed set of topic filters.
// It implements pipe.Generator[Notification].
type Source struct {
	*stage[struct{}]
}

// NewSource creates a Source that subscribes to filters on activation.
// Panics if conn is nil.
func NewSource(conn Connector, filters []TopicFilter, cfg Config) *Source {
	s := newStage[struct{}](conn, cfg, "source")
	s.topics = filters
	return &Source{stage: s}
}

// Generate starts the client and returns the notification channel.
// The channel is unbuffered: a notification is produced only when the
// consumer receives, and up to MaxBufferSize-1 notifications are held
// while it does not. The channel is closed when ctx is canceled or the
// stage fails; Err reports the failure.
// Returns pipe.ErrAlreadyStarted if the source has already been started.
func (s *Source) Generate(ctx context.Context) (<-chan Notification, error) {
	if err := s.start(ctx, nil, true); err != nil {
		return nil, err
	}
	return s.out.out, nil
}
