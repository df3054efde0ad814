package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fxsml/mqttstream"
	ce "github.com/fxsml/mqttstream/cloudevents"
)

const encodingBase64 = "base64"

// record is the JSON line written for a notification.
type record struct {
	Type           string        `json:"type"`
	Topic          string        `json:"topic,omitempty"`
	Payload        string        `json:"payload,omitempty"`
	Encoding       string        `json:"encoding,omitempty"`
	QoS            byte          `json:"qos,omitempty"`
	Retained       bool          `json:"retained,omitempty"`
	Code           string        `json:"code,omitempty"`
	SessionPresent bool          `json:"session_present,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	WasConnected   bool          `json:"was_connected,omitempty"`
	Filters        []filterInput `json:"filters,omitempty"`
	Topics         []string      `json:"topics,omitempty"`
	Success        *bool         `json:"success,omitempty"`
	Error          string        `json:"error,omitempty"`
}

type filterInput struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// operation is the JSON line read by the bridge command.
type operation struct {
	Op       string        `json:"op"`
	Topic    string        `json:"topic"`
	Payload  string        `json:"payload"`
	Encoding string        `json:"encoding"`
	QoS      byte          `json:"qos"`
	Retain   bool          `json:"retain"`
	Topics   []string      `json:"topics"`
	Filters  []filterInput `json:"filters"`
}

// encoder renders a notification as a single line.
type encoder func(mqttstream.Notification) ([]byte, error)

func newEncoder(format string, events ce.EventConfig) encoder {
	if format == formatCloudEvents {
		return func(n mqttstream.Notification) ([]byte, error) {
			e, err := ce.ToEvent(n, events)
			if err != nil {
				return nil, err
			}
			return json.Marshal(e)
		}
	}
	return encodeJSON
}

func encodeJSON(n mqttstream.Notification) ([]byte, error) {
	var r record
	switch n := n.(type) {
	case mqttstream.Received:
		r.Type = ce.TypeMessage
		r.Topic = n.Message.Topic
		r.Payload, r.Encoding = encodePayload(n.Message.Payload)
		r.QoS = n.Message.QoS
		r.Retained = n.Message.Retained
	case mqttstream.Connected:
		r.Type = ce.TypeConnected
		r.Code = n.Result.Code.String()
		r.SessionPresent = n.Result.SessionPresent
	case mqttstream.ConnectionFailed:
		r.Type = ce.TypeConnectionFailed
		r.Code = n.Result.Code.String()
		r.Error = errString(n.Err)
	case mqttstream.Disconnected:
		r.Type = ce.TypeDisconnected
		r.Reason = n.Reason.String()
		r.WasConnected = n.WasConnected
		r.Error = errString(n.Err)
	case mqttstream.Subscribed:
		r.Type = ce.TypeSubscribed
		for _, f := range n.Filters {
			r.Filters = append(r.Filters, filterInput{Topic: f.Topic, QoS: f.QoS})
		}
		r.Success = &n.Success
		r.Error = errString(n.Err)
	case mqttstream.Unsubscribed:
		r.Type = ce.TypeUnsubscribed
		r.Topics = n.Topics
		r.Success = &n.Success
		r.Error = errString(n.Err)
	default:
		return nil, fmt.Errorf("unsupported notification %T", n)
	}
	return json.Marshal(r)
}

// encodePayload returns text payloads as is and everything else base64
// encoded.
func encodePayload(p []byte) (string, string) {
	if utf8.Valid(p) {
		return string(p), ""
	}
	return base64.StdEncoding.EncodeToString(p), encodingBase64
}

func decodePayload(s, encoding string) ([]byte, error) {
	switch encoding {
	case "":
		return []byte(s), nil
	case encodingBase64:
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}

// decodeOperation parses one bridge input line.
func decodeOperation(format string, line []byte, qos byte) (mqttstream.Operation, error) {
	if format == formatCloudEvents {
		return decodeEvent(line)
	}

	var op operation
	if err := json.Unmarshal(line, &op); err != nil {
		return nil, err
	}
	switch op.Op {
	case "publish", "pub":
		if op.Topic == "" {
			return nil, errors.New("publish: missing topic")
		}
		payload, err := decodePayload(op.Payload, op.Encoding)
		if err != nil {
			return nil, err
		}
		opts := []mqttstream.PublishOption{mqttstream.WithQoS(max(op.QoS, qos))}
		if op.Retain {
			opts = append(opts, mqttstream.WithRetain())
		}
		return mqttstream.NewPublish(op.Topic, payload, opts...), nil
	case "subscribe", "sub":
		filters := make([]mqttstream.TopicFilter, 0, len(op.Topics)+len(op.Filters))
		for _, t := range op.Topics {
			filters = append(filters, mqttstream.TopicFilter{Topic: t, QoS: max(op.QoS, qos)})
		}
		for _, f := range op.Filters {
			filters = append(filters, mqttstream.TopicFilter{Topic: f.Topic, QoS: f.QoS})
		}
		if len(filters) == 0 {
			return nil, errors.New("subscribe: no topics")
		}
		return mqttstream.Subscribe{Filters: filters}, nil
	case "unsubscribe", "unsub":
		if len(op.Topics) == 0 {
			return nil, errors.New("unsubscribe: no topics")
		}
		return mqttstream.NewUnsubscribe(op.Topics...), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op.Op)
	}
}

func decodeEvent(line []byte) (mqttstream.Operation, error) {
	var e cloudevents.Event
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	p, err := ce.ToPublish(&e)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// scanLines emits non-empty lines from r until EOF or ctx is done. The
// returned error channel receives the scanner error, if any, once lines
// is closed.
func scanLines(ctx context.Context, r io.Reader) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			if len(sc.Bytes()) == 0 {
				continue
			}
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()
	return lines, errc
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
