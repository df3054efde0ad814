package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fxsml/mqttstream"
	"github.com/fxsml/mqttstream/pipe"
)

func newSubCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sub [TOPIC...]",
		Short: "Subscribe to topics and print notifications, one per line",
		Long: "Subscribe to topics and print notifications, one per line.\n" +
			"Topics default to stage.topics from the configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			topics := args
			if len(topics) == 0 {
				topics = a.file.Stage.Topics
			}
			if len(topics) == 0 {
				return fmt.Errorf("no topics given")
			}
			return a.runSub(cmd.Context(), topics)
		},
	}
}

func (a *app) runSub(ctx context.Context, topics []string) error {
	src := mqttstream.NewSource(a.conn, a.filters(topics), a.stageConfig("sub"))

	out, err := pipe.From[mqttstream.Notification, []byte](src, a.encodePipe()).Generate(ctx)
	if err != nil {
		return err
	}
	if err := a.writeLines(out); err != nil {
		return err
	}
	<-src.Done()
	return src.Err()
}

func (a *app) encodePipe() pipe.Pipe[mqttstream.Notification, []byte] {
	encode := newEncoder(a.format, a.events)
	return pipe.NewTransformPipe(func(_ context.Context, n mqttstream.Notification) ([]byte, error) {
		return encode(n)
	}, pipe.Config{
		ErrorHandler: func(in any, err error) {
			a.logger.Warn("Dropping notification", "notification", fmt.Sprintf("%T", in), "error", err)
		},
	})
}

func (a *app) writeLines(lines <-chan []byte) error {
	for line := range lines {
		if _, err := a.stdout.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}
