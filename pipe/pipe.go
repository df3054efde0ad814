package pipe

import (
	"context"
	"sync"
)

// Pipe is a started-once stage that consumes in and produces a channel of outputs.
type Pipe[In, Out any] interface {
	// Pipe begins consuming in and returns the output channel.
	// The output channel is closed when the stage completes.
	// Returns ErrAlreadyStarted if the pipe has already been started.
	Pipe(ctx context.Context, in <-chan In) (<-chan Out, error)
}

// Generator is a started-once stage that produces values without an input.
type Generator[Out any] interface {
	// Generate returns a channel that emits values until the context is
	// canceled or the stage fails.
	// Returns ErrAlreadyStarted if the generator has already been started.
	Generate(ctx context.Context) (<-chan Out, error)
}

type appliedPipe[In, Inter, Out any] struct {
	pipeA Pipe[In, Inter]
	pipeB Pipe[Inter, Out]
}

func (p *appliedPipe[In, Inter, Out]) Pipe(ctx context.Context, in <-chan In) (<-chan Out, error) {
	inter, err := p.pipeA.Pipe(ctx, in)
	if err != nil {
		return nil, err
	}
	return p.pipeB.Pipe(ctx, inter)
}

// Apply combines two Pipes into one, connecting the output of the first to the input of the second.
func Apply[In, Inter, Out any](a Pipe[In, Inter], b Pipe[Inter, Out]) Pipe[In, Out] {
	return &appliedPipe[In, Inter, Out]{
		pipeA: a,
		pipeB: b,
	}
}

type sourcedPipe[Inter, Out any] struct {
	gen  Generator[Inter]
	pipe Pipe[Inter, Out]
}

func (p *sourcedPipe[Inter, Out]) Generate(ctx context.Context) (<-chan Out, error) {
	inter, err := p.gen.Generate(ctx)
	if err != nil {
		return nil, err
	}
	return p.pipe.Pipe(ctx, inter)
}

// From attaches a Pipe to the output of a Generator, yielding a new Generator.
func From[Inter, Out any](g Generator[Inter], p Pipe[Inter, Out]) Generator[Out] {
	return &sourcedPipe[Inter, Out]{gen: g, pipe: p}
}

// NewProcessPipe creates a Pipe that can transform each input into multiple outputs.
// The handle function receives a context and input item, and returns a slice of outputs or an error.
func NewProcessPipe[In, Out any](
	handle func(context.Context, In) ([]Out, error),
	cfg Config,
) *ProcessPipe[In, Out] {
	return &ProcessPipe[In, Out]{
		handle: handle,
		cfg:    cfg,
	}
}

// NewTransformPipe creates a Pipe that transforms each input into exactly one output.
func NewTransformPipe[In, Out any](
	handle func(context.Context, In) (Out, error),
	cfg Config,
) *ProcessPipe[In, Out] {
	fn := func(ctx context.Context, in In) ([]Out, error) {
		out, err := handle(ctx, in)
		if err != nil {
			return nil, err
		}
		return []Out{out}, nil
	}
	return NewProcessPipe(fn, cfg)
}

// ProcessPipe is a Pipe that processes individual items using a ProcessFunc.
type ProcessPipe[In, Out any] struct {
	handle ProcessFunc[In, Out]
	cfg    Config

	mu      sync.Mutex
	started bool
}

// Pipe begins processing items from the input channel.
// Returns ErrAlreadyStarted if the pipe has already been started.
func (p *ProcessPipe[In, Out]) Pipe(ctx context.Context, in <-chan In) (<-chan Out, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil, ErrAlreadyStarted
	}
	p.started = true
	return startProcessing(ctx, in, p.handle, p.cfg), nil
}
