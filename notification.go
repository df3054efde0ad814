package mqttstream

import "strconv"

// Notification is a value emitted by a stage towards the pipeline.
// The set of notifications is closed: Received, Subscribed, Unsubscribed,
// Connected, ConnectionFailed and Disconnected.
type Notification interface {
	notification()
}

// Received carries an inbound application message.
type Received struct {
	Message Message
}

// Subscribed acknowledges a Subscribe.
type Subscribed struct {
	Filters []TopicFilter
	Success bool
	Err     error
}

// Unsubscribed acknowledges an Unsubscribe.
type Unsubscribed struct {
	Topics  []string
	Success bool
	Err     error
}

// Connected reports a successful (re)connection.
type Connected struct {
	Result ConnectResult
}

// ConnectionFailed reports a failed connection attempt.
// The client keeps retrying according to its own policy.
type ConnectionFailed struct {
	Result ConnectResult
	Err    error
}

// Disconnected reports a lost or closed connection.
type Disconnected struct {
	Result       ConnectResult
	Err          error
	WasConnected bool
	Reason       DisconnectReason
}

func (Received) notification()         {}
func (Subscribed) notification()       {}
func (Unsubscribed) notification()     {}
func (Connected) notification()        {}
func (ConnectionFailed) notification() {}
func (Disconnected) notification()     {}

// ConnectResult is the outcome of a connection attempt.
type ConnectResult struct {
	Code           ConnectCode
	SessionPresent bool
}

// ConnectCode is an MQTT 3.1.1 CONNACK return code.
type ConnectCode byte

const (
	ConnectAccepted ConnectCode = iota
	ConnectRefusedProtocolVersion
	ConnectRefusedIdentifierRejected
	ConnectRefusedServerUnavailable
	ConnectRefusedBadCredentials
	ConnectRefusedNotAuthorized
)

// String implements fmt.Stringer.
func (c ConnectCode) String() string {
	switch c {
	case ConnectAccepted:
		return "accepted"
	case ConnectRefusedProtocolVersion:
		return "unacceptable protocol version"
	case ConnectRefusedIdentifierRejected:
		return "identifier rejected"
	case ConnectRefusedServerUnavailable:
		return "server unavailable"
	case ConnectRefusedBadCredentials:
		return "bad user name or password"
	case ConnectRefusedNotAuthorized:
		return "not authorized"
	default:
		return "code " + strconv.Itoa(int(c))
	}
}

// DisconnectReason tells why a connection ended.
type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	DisconnectConnectionLost
	DisconnectClientStopped
)

// String implements fmt.Stringer.
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectConnectionLost:
		return "connection lost"
	case DisconnectClientStopped:
		return "client stopped"
	default:
		return "unknown"
	}
}
