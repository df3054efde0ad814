package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fxsml/mqttstream"
)

func newPubCmd(a *app) *cobra.Command {
	var (
		perSecond float64
		retain    bool
	)
	cmd := &cobra.Command{
		Use:   "pub [TOPIC]",
		Short: "Publish stdin lines as messages",
		Long: "Publish every line read from stdin as one message to TOPIC.\n" +
			"With --format cloudevents each line is a CloudEvent and the topic is\n" +
			"taken from its mqtttopic extension or subject.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var topic string
			if len(args) == 1 {
				topic = args[0]
			}
			if topic == "" && a.format != formatCloudEvents {
				return errors.New("topic required")
			}
			return a.runPub(cmd.Context(), topic, retain, newLimiter(perSecond))
		},
	}
	cmd.Flags().Float64Var(&perSecond, "rate", 0, "maximum messages per second (0 means unlimited)")
	cmd.Flags().BoolVarP(&retain, "retain", "r", false, "set the retain flag")
	return cmd
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (a *app) runPub(ctx context.Context, topic string, retain bool, limiter *rate.Limiter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := mqttstream.NewSink(a.conn, a.stageConfig("pub"))
	in := make(chan mqttstream.Publish)
	done, err := sink.Pipe(ctx, in)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(in)
		lines, errc := scanLines(gctx, a.stdin)
		for line := range lines {
			p, err := a.toPublish(topic, retain, line)
			if err != nil {
				a.logger.Warn("Skipping input line", "error", err)
				continue
			}
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}
			select {
			case in <- p:
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
		if err := <-errc; err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-done
		cancel()
		return sink.Err()
	})
	return g.Wait()
}

func (a *app) toPublish(topic string, retain bool, line []byte) (mqttstream.Publish, error) {
	if a.format == formatCloudEvents {
		op, err := decodeEvent(line)
		if err != nil {
			return mqttstream.Publish{}, err
		}
		p := op.(mqttstream.Publish)
		if topic != "" {
			p.Message.Topic = topic
		}
		return p, nil
	}

	opts := []mqttstream.PublishOption{mqttstream.WithQoS(a.file.Stage.QoS)}
	if retain {
		opts = append(opts, mqttstream.WithRetain())
	}
	return mqttstream.NewPublish(topic, line, opts...), nil
}
