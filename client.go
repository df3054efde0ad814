package mqttstream

// Token is the asynchronous result of a client operation.
// Done is closed once the operation completed; Error is valid afterwards.
type Token interface {
	Done() <-chan struct{}
	Error() error
}

// Listener receives client lifecycle and message events.
// Clients call listeners from their own goroutines; implementations must
// return quickly and never block.
type Listener interface {
	OnConnected(result ConnectResult)
	OnDisconnected(result ConnectResult, err error, wasConnected bool, reason DisconnectReason)
	OnConnectingFailed(result ConnectResult, err error)
	OnMessage(msg Message)
}

// Client is a managed MQTT client. It owns connection handling,
// reconnection and session persistence; a stage only starts, stops and
// issues operations.
//
// A Client is used by exactly one stage and is not restarted after Stop.
type Client interface {
	// Start begins connecting with the options the client was created with.
	Start() Token
	// Stop disconnects and releases the client.
	Stop() Token

	Publish(msg Message) Token
	Subscribe(filters ...TopicFilter) Token
	Unsubscribe(topics ...string) Token

	// AddListener registers l for all events and returns a function
	// that removes it again.
	AddListener(l Listener) (remove func())

	// PendingCount returns the number of operations the client has
	// accepted but not yet completed.
	PendingCount() int
}

// Connector creates a new Client for every stage activation.
// It carries the connection options, which are opaque to stages.
type Connector interface {
	NewClient() Client
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func() Client

// NewClient implements Connector.
func (f ConnectorFunc) NewClient() Client { return f() }
