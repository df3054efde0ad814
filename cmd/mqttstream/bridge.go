package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fxsml/mqttstream"
	"github.com/fxsml/mqttstream/pipe"
)

func newBridgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Read operations from stdin and print notifications",
		Long: "Read one operation per line from stdin and print notifications.\n\n" +
			"JSON operations:\n" +
			`  {"op":"publish","topic":"a/b","payload":"on","qos":1,"retain":true}` + "\n" +
			`  {"op":"subscribe","topics":["a/#"],"qos":1}` + "\n" +
			`  {"op":"unsubscribe","topics":["a/#"]}` + "\n\n" +
			"With --format cloudevents each line is a CloudEvent to publish.\n" +
			"The bridge runs until interrupted unless stage.complete_on_upstream_finish is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBridge(cmd.Context())
		},
	}
}

func (a *app) runBridge(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	flow := mqttstream.NewFlow(a.conn, mqttstream.FlowConfig{
		Config:                   a.stageConfig("bridge"),
		Topics:                   a.filters(a.file.Stage.Topics),
		CompleteOnUpstreamFinish: a.file.Stage.CompleteOnUpstreamFinish,
	})

	qos := a.file.Stage.QoS
	decode := pipe.NewTransformPipe(func(_ context.Context, line []byte) (mqttstream.Operation, error) {
		return decodeOperation(a.format, line, qos)
	}, pipe.Config{
		ErrorHandler: func(in any, err error) {
			a.logger.Warn("Skipping input line", "line", fmt.Sprintf("%s", in), "error", err)
		},
	})

	lines, errc := scanLines(ctx, a.stdin)
	ops := pipe.Apply[[]byte, mqttstream.Operation, mqttstream.Notification](decode, flow)
	stream := pipe.Apply[[]byte, mqttstream.Notification, []byte](ops, a.encodePipe())
	out, err := stream.Pipe(ctx, lines)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := <-errc; err != nil {
			cancel()
			return fmt.Errorf("read input: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		if err := a.writeLines(out); err != nil {
			return err
		}
		<-flow.Done()
		return flow.Err()
	})
	return g.Wait()
}
