package pipe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProcessFunc is the core processing function signature.
type ProcessFunc[In, Out any] func(ctx context.Context, in In) ([]Out, error)

// Config configures behavior of a ProcessPipe.
type Config struct {
	// Concurrency sets the number of concurrent workers.
	// Default is 1. Values above 1 do not preserve input order.
	Concurrency int

	// BufferSize sets the output channel buffer size.
	// Default is 0 (unbuffered).
	BufferSize int

	// ErrorHandler is called when processing fails.
	// Default logs via slog.Error.
	ErrorHandler func(in any, err error)

	// ShutdownTimeout controls shutdown behavior on context cancellation.
	// If <= 0, forces immediate shutdown (no grace period).
	// If > 0, waits up to this duration for natural completion, then forces shutdown.
	ShutdownTimeout time.Duration
}

func (c Config) parse() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.BufferSize < 0 {
		c.BufferSize = 0
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = func(in any, err error) {
			slog.Error("[MQTTSTREAM] Processing failed", slog.Any("input", in), slog.Any("error", err))
		}
	}
	return c
}

// startProcessing runs Concurrency workers over in and returns the output channel.
// On forced shutdown, workers stop forwarding and report the current input
// with ErrShutdownDropped. The output channel is closed when all workers exit.
func startProcessing[In, Out any](
	ctx context.Context,
	in <-chan In,
	fn ProcessFunc[In, Out],
	cfg Config,
) <-chan Out {
	cfg = cfg.parse()
	out := make(chan Out, cfg.BufferSize)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for range cfg.Concurrency {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case val, ok := <-in:
					if !ok {
						return
					}
					res, err := fn(ctx, val)
					if err != nil {
						cfg.ErrorHandler(val, err)
						continue
					}
					for _, r := range res {
						select {
						case out <- r:
						case <-done:
							cfg.ErrorHandler(val, ErrShutdownDropped)
							return
						}
					}
				}
			}
		}()
	}

	wgDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgDone)
	}()

	go func() {
		select {
		case <-ctx.Done():
			if cfg.ShutdownTimeout > 0 {
				select {
				case <-wgDone:
				case <-time.After(cfg.ShutdownTimeout):
					close(done)
				}
			} else {
				close(done)
			}
		case <-wgDone:
		}
		<-wgDone
		close(out)
	}()

	return out
}
