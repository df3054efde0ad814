// Package pipe provides the stage contracts and supervision policy that
// mqttstream stages plug into.
//
// A stage is started once and communicates through channels only:
//
//   - [Generator]: produces values on a channel (sources)
//   - [Pipe]: consumes one channel and produces another (flows, sinks)
//
// Demand is expressed by receiving from an output channel; a stage never
// hands a consumer more than it receives. Upstream completion is signaled
// by closing the input channel, downstream cancellation by canceling the
// context passed to Generate or Pipe.
//
// # Quick Start
//
//	encode := pipe.NewTransformPipe(
//		func(ctx context.Context, n mqttstream.Notification) ([]byte, error) {
//			return json.Marshal(n)
//		},
//		pipe.Config{BufferSize: 10},
//	)
//	lines, _ := pipe.From(source, encode).Generate(ctx)
//
// # Supervision
//
// Stages that perform asynchronous work consult a [Decider] when that work
// fails. [StoppingDecider] fails the stage, [ResumingDecider] drops the
// failed unit of work and keeps the stage running.
package pipe
