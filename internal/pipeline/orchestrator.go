// Package pipeline runs one inbound call through decode, validate, dispatch
// and encode for a serving unit.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/adapter"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/envelope"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/serving"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/validator"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/inference"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	unit        *serving.Unit
	preprocess  Preprocessor
	predict     Stage
	explain     Stage
	postprocess Stage
}

type Option func(*Orchestrator)

func WithPreprocessor(p Preprocessor) Option {
	return func(o *Orchestrator) { o.preprocess = p }
}

func WithPredictor(s Stage) Option {
	return func(o *Orchestrator) { o.predict = s }
}

// WithExplainer replaces the remote explainer call with s, typically an
// in-process explanation algorithm.
func WithExplainer(s Stage) Option {
	return func(o *Orchestrator) { o.explain = s }
}

func WithPostprocessor(s Stage) Option {
	return func(o *Orchestrator) { o.postprocess = s }
}

// New returns an orchestrator whose default stages decode envelopes, forward
// to the unit's backends and project typed responses onto JSON.
func New(unit *serving.Unit, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		unit:        unit,
		preprocess:  PreprocessorFunc(DefaultPreprocess),
		predict:     remote(unit, serving.Predictor),
		explain:     remote(unit, serving.Explainer),
		postprocess: Sync(DefaultPostprocess),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Unit() *serving.Unit {
	return o.unit
}

// Invoke runs env through the pipeline for op. Decode failures surface as
// client errors, dispatch errors are returned as the stage produced them and
// encode failures surface as server errors.
func (o *Orchestrator) Invoke(ctx context.Context, env envelope.Envelope, op serving.OperationKind) (result payload.Payload, err error) {
	startTime := time.Now()
	defer func() {
		statusCode := http.StatusOK
		if err != nil {
			statusCode = errors.ToAPIError(err).StatusCode
			log.Warn().Ctx(ctx).Err(err).Msgf("%s on model %s failed with %d", op, o.unit.Name(), statusCode)
		}
		tags := metric.BuildPipelineTags(o.unit.Name(), op.String(), statusCode)
		metric.Timing(metric.PipelineRequestLatency, time.Since(startTime), tags)
		metric.Incr(metric.PipelineRequestCount, tags)
	}()

	request, err := o.preprocess.Preprocess(ctx, env).Await(ctx)
	if err != nil {
		if errors.IsTyped(err) {
			return payload.Payload{}, err
		}
		return payload.Payload{}, &errors.ClientError{Reason: err.Error()}
	}

	request, err = validator.Validate(request)
	if err != nil {
		return payload.Payload{}, err
	}

	stage := o.predict
	if op == serving.Explainer {
		stage = o.explain
	}
	response, err := stage.Run(ctx, request).Await(ctx)
	if err != nil {
		return payload.Payload{}, err
	}

	result, err = o.postprocess.Run(ctx, response).Await(ctx)
	if err != nil {
		return payload.Payload{}, &errors.ServerError{Reason: "failed to encode response", Cause: err}
	}
	return result, nil
}

// DefaultPreprocess decodes env, suspending only when the body still has to
// be read.
func DefaultPreprocess(ctx context.Context, env envelope.Envelope) *Future[payload.Payload] {
	if env.Suspends() {
		return Async(ctx, func(ctx context.Context) (payload.Payload, error) {
			return envelope.Decode(ctx, env)
		})
	}
	p, err := envelope.Decode(ctx, env)
	return Resolved(p, err)
}

// DefaultPostprocess projects typed inference messages onto JSON and passes
// any other payload through.
func DefaultPostprocess(_ context.Context, p payload.Payload) (payload.Payload, error) {
	switch p.Kind {
	case payload.KindInferRequest, payload.KindInferResponse:
		obj, err := inference.ToJSON(p.Message)
		if err != nil {
			return payload.Payload{}, err
		}
		return payload.FromJSON(obj), nil
	}
	return p, nil
}

func remote(unit *serving.Unit, op serving.OperationKind) Stage {
	return Suspending(func(ctx context.Context, p payload.Payload) (payload.Payload, error) {
		return adapter.Send(ctx, unit, op, p)
	})
}
