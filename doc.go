// Package mqttstream connects an MQTT client to channel-based pipelines.
//
// Three stages cover the directions of traffic:
//
//   - [Source]: emits [Notification] values for static topic filters
//   - [Sink]: publishes [Publish] operations
//   - [Flow]: accepts any [Operation] and emits [Notification] values
//
// Each stage owns one [Client], created from a [Connector] when the stage
// starts and stopped when it ends. The production client lives in the
// paho subpackage.
//
// # Backpressure
//
// Output channels are unbuffered, so consumers signal demand by receiving.
// Client events that arrive while nobody receives are queued in arrival
// order. A stage holds at most MaxBufferSize-1 queued notifications and at
// most MaxBufferSize operations in flight; reaching either bound fails the
// stage with an [*OverflowError]. Losing broker events silently is never an
// option.
//
// # Failures
//
// Failed client operations (start, stop, publish, subscribe, unsubscribe)
// are passed to Config.Decider. [pipe.Stop] fails the stage, [pipe.Resume]
// drops the operation. Overflow always fails the stage. Connection failures
// are not errors: they are emitted as [ConnectionFailed] and the client
// keeps reconnecting.
//
// A failed stage closes its output channel; Err returns the cause and Done
// is closed once the client has been stopped.
//
// # Quick Start
//
//	conn := paho.NewConnector(paho.Options{Servers: []string{"tcp://localhost:1883"}})
//	src := mqttstream.NewSource(conn, mqttstream.Topics("sensors/#"), mqttstream.Config{})
//	out, _ := src.Generate(ctx)
//	for n := range out {
//		if r, ok := n.(mqttstream.Received); ok {
//			fmt.Println(r.Message.Topic, string(r.Message.Payload))
//		}
//	}
//	if err := src.Err(); err != nil {
//		log.Fatal(err)
//	}
package mqttstream
