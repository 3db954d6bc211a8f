package circuitbreaker

import (
	"errors"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/rs/zerolog/log"
)

// CircuitBreaker runs task under a breaker. An open breaker rejects the call
// without running task and returns an error for which IsOpen is true.
type CircuitBreaker[Request any, Response any] interface {
	Execute(request Request, task func(Request) (Response, error)) (Response, error)
}

// New returns a failsafe-go backed breaker, or nil when config is disabled.
func New[Request, Response any](config *Config) CircuitBreaker[Request, Response] {
	if config == nil || !config.Enabled {
		return nil
	}
	builder := circuitbreaker.Builder[any]()
	if config.rateBased() {
		builder = builder.WithFailureRateThreshold(
			uint(config.FailureRateThreshold),
			uint(config.FailureRateMinimumWindow),
			time.Duration(config.FailureRateWindowInMs)*time.Millisecond,
		)
	} else {
		builder = builder.WithFailureThresholdRatio(uint(config.FailureCountThreshold), uint(config.FailureCountWindow))
	}
	name := config.Name
	cb := builder.
		WithSuccessThresholdRatio(uint(config.SuccessCountThreshold), uint(config.SuccessCountWindow)).
		WithDelay(time.Duration(config.WithDelayInMS) * time.Millisecond).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			log.Warn().Msgf("Circuit Breaker '%s' changed state from %s to %s", name, event.OldState, event.NewState)
			metric.Incr(metric.CBStateChanged, metric.BuildTag(
				metric.NewTag(metric.TagCBName, name),
				metric.NewTag(metric.TagCBFromState, event.OldState.String()),
				metric.NewTag(metric.TagCBToState, event.NewState.String()),
			))
		}).
		Build()
	return &failSafeCB[Request, Response]{cb: cb}
}

// IsOpen reports whether err is a rejection by an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrOpen)
}

type failSafeCB[Request, Response any] struct {
	cb circuitbreaker.CircuitBreaker[any]
}

func (f *failSafeCB[Request, Response]) Execute(request Request, task func(Request) (Response, error)) (Response, error) {
	var result Response
	err := failsafe.Run(func() error {
		var taskErr error
		result, taskErr = task(request)
		return taskErr
	}, f.cb)
	return result, err
}
