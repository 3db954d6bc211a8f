package pipeline

import (
	"context"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/envelope"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
)

// Preprocessor turns an inbound envelope into a payload.
type Preprocessor interface {
	Preprocess(ctx context.Context, env envelope.Envelope) *Future[payload.Payload]
}

// Stage is a predict, explain or postprocess step.
type Stage interface {
	Run(ctx context.Context, p payload.Payload) *Future[payload.Payload]
}

type PreprocessorFunc func(ctx context.Context, env envelope.Envelope) *Future[payload.Payload]

func (f PreprocessorFunc) Preprocess(ctx context.Context, env envelope.Envelope) *Future[payload.Payload] {
	return f(ctx, env)
}

type StageFunc func(ctx context.Context, p payload.Payload) *Future[payload.Payload]

func (f StageFunc) Run(ctx context.Context, p payload.Payload) *Future[payload.Payload] {
	return f(ctx, p)
}

// Sync adapts a blocking function that returns without waiting on I/O.
func Sync(fn func(ctx context.Context, p payload.Payload) (payload.Payload, error)) Stage {
	return StageFunc(func(ctx context.Context, p payload.Payload) *Future[payload.Payload] {
		out, err := fn(ctx, p)
		return Resolved(out, err)
	})
}

// Suspending adapts a function that waits on I/O; it runs on its own goroutine.
func Suspending(fn func(ctx context.Context, p payload.Payload) (payload.Payload, error)) Stage {
	return StageFunc(func(ctx context.Context, p payload.Payload) *Future[payload.Payload] {
		return Async(ctx, func(ctx context.Context) (payload.Payload, error) {
			return fn(ctx, p)
		})
	})
}
