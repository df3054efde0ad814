// Package cloudevents converts between mqttstream values and CloudEvents.
//
// A received message becomes an event of type "<prefix>.message" whose
// subject is the MQTT topic. Topic, QoS and retain flag are carried in the
// extensions mqtttopic, mqttqos and mqttretained. Lifecycle notifications
// become events with JSON data describing the notification.
package cloudevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"

	"github.com/fxsml/mqttstream"
)

// Extension names.
const (
	ExtTopic    = "mqtttopic"
	ExtQoS      = "mqttqos"
	ExtRetained = "mqttretained"
)

// Event type suffixes appended to EventConfig.TypePrefix.
const (
	TypeMessage          = "message"
	TypeConnected        = "connected"
	TypeConnectionFailed = "connection_failed"
	TypeDisconnected     = "disconnected"
	TypeSubscribed       = "subscribed"
	TypeUnsubscribed     = "unsubscribed"
)

var (
	// ErrUnsupported is returned for notifications without an event mapping.
	ErrUnsupported = errors.New("cloudevents: unsupported notification")

	// ErrNoTopic is returned by ToPublish for events that name no topic.
	ErrNoTopic = errors.New("cloudevents: event has no topic")
)

// EventConfig configures the produced events.
type EventConfig struct {
	// Source is the event source attribute.
	// Default is "mqttstream".
	Source string
	// TypePrefix is prepended to the event type.
	// Default is "io.mqttstream".
	TypePrefix string
}

func (c EventConfig) parse() EventConfig {
	if c.Source == "" {
		c.Source = "mqttstream"
	}
	if c.TypePrefix == "" {
		c.TypePrefix = "io.mqttstream"
	}
	return c
}

type filterData struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

type connectedData struct {
	Code           string `json:"code"`
	SessionPresent bool   `json:"session_present"`
}

type connectionFailedData struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

type disconnectedData struct {
	Reason       string `json:"reason"`
	WasConnected bool   `json:"was_connected"`
	Error        string `json:"error,omitempty"`
}

type subscribedData struct {
	Filters []filterData `json:"filters"`
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
}

type unsubscribedData struct {
	Topics  []string `json:"topics"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
}

// ToEvent converts n into a CloudEvent.
func ToEvent(n mqttstream.Notification, cfg EventConfig) (*cloudevents.Event, error) {
	cfg = cfg.parse()

	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(cfg.Source)
	e.SetTime(time.Now().UTC())

	var (
		kind string
		data any
	)
	switch n := n.(type) {
	case mqttstream.Received:
		if err := setMessage(&e, n.Message); err != nil {
			return nil, err
		}
		kind = TypeMessage
	case mqttstream.Connected:
		kind = TypeConnected
		data = connectedData{Code: n.Result.Code.String(), SessionPresent: n.Result.SessionPresent}
	case mqttstream.ConnectionFailed:
		kind = TypeConnectionFailed
		data = connectionFailedData{Code: n.Result.Code.String(), Error: errString(n.Err)}
	case mqttstream.Disconnected:
		kind = TypeDisconnected
		data = disconnectedData{Reason: n.Reason.String(), WasConnected: n.WasConnected, Error: errString(n.Err)}
	case mqttstream.Subscribed:
		kind = TypeSubscribed
		filters := make([]filterData, len(n.Filters))
		for i, f := range n.Filters {
			filters[i] = filterData{Topic: f.Topic, QoS: f.QoS}
		}
		data = subscribedData{Filters: filters, Success: n.Success, Error: errString(n.Err)}
	case mqttstream.Unsubscribed:
		kind = TypeUnsubscribed
		data = unsubscribedData{Topics: n.Topics, Success: n.Success, Error: errString(n.Err)}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, n)
	}

	e.SetType(cfg.TypePrefix + "." + kind)
	if data != nil {
		if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return nil, fmt.Errorf("cloudevents: encode %s data: %w", kind, err)
		}
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("cloudevents: %w", err)
	}
	return &e, nil
}

// setMessage stores msg as event data. JSON payloads stay inline, other
// payloads are carried as binary data.
func setMessage(e *cloudevents.Event, msg mqttstream.Message) error {
	e.SetSubject(msg.Topic)
	e.SetExtension(ExtTopic, msg.Topic)
	e.SetExtension(ExtQoS, int32(msg.QoS))
	e.SetExtension(ExtRetained, msg.Retained)

	var err error
	switch {
	case len(msg.Payload) == 0:
	case json.Valid(msg.Payload):
		err = e.SetData(cloudevents.ApplicationJSON, json.RawMessage(msg.Payload))
	default:
		err = e.SetData("application/octet-stream", msg.Payload)
	}
	if err != nil {
		return fmt.Errorf("cloudevents: encode message data: %w", err)
	}
	return nil
}

// ToPublish converts e into a Publish operation. The topic is read from the
// mqtttopic extension, falling back to the subject. QoS and retain flag
// are read from mqttqos and mqttretained when present.
func ToPublish(e *cloudevents.Event) (mqttstream.Publish, error) {
	if e == nil {
		return mqttstream.Publish{}, errors.New("cloudevents: nil event")
	}

	ext := e.Extensions()
	topic := e.Subject()
	if v, ok := ext[ExtTopic]; ok {
		s, err := types.ToString(v)
		if err != nil {
			return mqttstream.Publish{}, fmt.Errorf("cloudevents: %s: %w", ExtTopic, err)
		}
		topic = s
	}
	if topic == "" {
		return mqttstream.Publish{}, ErrNoTopic
	}

	var opts []mqttstream.PublishOption
	if v, ok := ext[ExtQoS]; ok {
		qos, err := types.ToInteger(v)
		if err != nil {
			return mqttstream.Publish{}, fmt.Errorf("cloudevents: %s: %w", ExtQoS, err)
		}
		if qos < 0 || qos > 2 {
			return mqttstream.Publish{}, fmt.Errorf("cloudevents: %s: invalid qos %d", ExtQoS, qos)
		}
		opts = append(opts, mqttstream.WithQoS(byte(qos)))
	}
	if v, ok := ext[ExtRetained]; ok {
		retained, err := types.ToBool(v)
		if err != nil {
			return mqttstream.Publish{}, fmt.Errorf("cloudevents: %s: %w", ExtRetained, err)
		}
		if retained {
			opts = append(opts, mqttstream.WithRetain())
		}
	}

	var payload []byte
	if b := e.Data(); len(b) > 0 {
		payload = append([]byte(nil), b...)
	}
	return mqttstream.NewPublish(topic, payload, opts...), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
