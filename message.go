package mqttstream

// Message is an MQTT application message.
// Payload is passed through stages unchanged.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// TopicFilter is a subscription filter with its requested QoS.
type TopicFilter struct {
	Topic string
	QoS   byte
}

// Topics returns QoS 0 filters for the given topics.
func Topics(topics ...string) []TopicFilter {
	filters := make([]TopicFilter, len(topics))
	for i, t := range topics {
		filters[i] = TopicFilter{Topic: t}
	}
	return filters
}

// Operation is a request sent from the pipeline to the broker.
// The set of operations is closed: Publish, Subscribe and Unsubscribe.
type Operation interface {
	operation()
}

// Publish sends Message to the broker.
type Publish struct {
	Message Message
}

// Subscribe adds subscriptions for Filters.
type Subscribe struct {
	Filters []TopicFilter
}

// Unsubscribe removes subscriptions for Topics.
type Unsubscribe struct {
	Topics []string
}

func (Publish) operation()     {}
func (Subscribe) operation()   {}
func (Unsubscribe) operation() {}

// PublishOption configures a Publish created by NewPublish.
type PublishOption func(*Message)

// WithQoS sets the QoS of the published message.
func WithQoS(qos byte) PublishOption {
	return func(m *Message) { m.QoS = qos }
}

// WithRetain marks the published message as retained.
func WithRetain() PublishOption {
	return func(m *Message) { m.Retained = true }
}

// NewPublish creates a Publish for topic with the given payload.
func NewPublish(topic string, payload []byte, opts ...PublishOption) Publish {
	m := Message{Topic: topic, Payload: payload}
	for _, opt := range opts {
		opt(&m)
	}
	return Publish{Message: m}
}

// NewSubscribe creates a Subscribe for topics at the given QoS.
func NewSubscribe(qos byte, topics ...string) Subscribe {
	filters := Topics(topics...)
	for i := range filters {
		filters[i].QoS = qos
	}
	return Subscribe{Filters: filters}
}

// NewUnsubscribe creates an Unsubscribe for topics.
func NewUnsubscribe(topics ...string) Unsubscribe {
	return Unsubscribe{Topics: topics}
}
