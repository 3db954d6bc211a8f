// Package serving holds the per-model serving unit: identity, readiness,
// backend addresses and the transports used to reach them.
package serving

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/circuitbreaker"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/grpcclient"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/httpclient"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const DefaultTimeout = 600 * time.Second

type Protocol string

const (
	RestV1 Protocol = "v1"
	RestV2 Protocol = "v2"
	GrpcV2 Protocol = "grpc-v2"
)

func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RestV1, nil
	case RestV1, RestV2, GrpcV2:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q, expected one of v1, v2, grpc-v2", s)
}

type OperationKind int

const (
	Predictor OperationKind = iota
	Explainer
)

func (o OperationKind) String() string {
	if o == Explainer {
		return "explain"
	}
	return "predict"
}

// Loader prepares a unit for serving. A nil Loader makes Load succeed at once.
type Loader func(ctx context.Context, u *Unit) error

type Config struct {
	Name          string
	Protocol      Protocol
	PredictorHost string
	ExplainerHost string
	// Timeout bounds every outbound call. Zero means DefaultTimeout.
	Timeout time.Duration
	Loader  Loader

	// HTTP and GRPC carry the pool settings used when the transports are
	// first created. Name, Timeout and CBConfig are filled in by the unit.
	HTTP httpclient.Config
	GRPC grpcclient.Config

	// Breakers are kept per operation over the shared HTTP pool. Nil
	// disables the breaker for that operation.
	PredictorCircuitBreaker *circuitbreaker.Config
	ExplainerCircuitBreaker *circuitbreaker.Config
}

// Unit is one deployed model. It is safe for concurrent use; transports are
// created on first use and shared for the unit's lifetime.
type Unit struct {
	name          string
	protocol      Protocol
	predictorHost string
	explainerHost string
	timeout       time.Duration
	loader        Loader
	httpConfig    httpclient.Config
	grpcConfig    grpcclient.Config
	breakers      [2]*circuitbreaker.Config

	ready       atomic.Bool
	httpClients atomic.Pointer[[2]*httpclient.HTTPClient]
	grpcClient  atomic.Pointer[grpcclient.GRPCClient]
	group       singleflight.Group
}

func NewUnit(config Config) (*Unit, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	protocol, err := ParseProtocol(string(config.Protocol))
	if err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Unit{
		name:          config.Name,
		protocol:      protocol,
		predictorHost: config.PredictorHost,
		explainerHost: config.ExplainerHost,
		timeout:       timeout,
		loader:        config.Loader,
		httpConfig:    config.HTTP,
		grpcConfig:    config.GRPC,
		breakers:      [2]*circuitbreaker.Config{config.PredictorCircuitBreaker, config.ExplainerCircuitBreaker},
	}, nil
}

func (u *Unit) Name() string {
	return u.name
}

func (u *Unit) Protocol() Protocol {
	return u.protocol
}

func (u *Unit) Timeout() time.Duration {
	return u.timeout
}

func (u *Unit) Ready() bool {
	return u.ready.Load()
}

// Host returns the backend address for op, or "" when none is configured.
func (u *Unit) Host(op OperationKind) string {
	if op == Explainer {
		return u.explainerHost
	}
	return u.predictorHost
}

// Load runs the loader and marks the unit ready on success.
func (u *Unit) Load(ctx context.Context) error {
	if u.loader != nil {
		if err := u.loader(ctx, u); err != nil {
			log.Error().Err(err).Msgf("failed to load model %s", u.name)
			return err
		}
	}
	u.ready.Store(true)
	log.Info().Msgf("model %s is ready (protocol %s, predictor %q, explainer %q)", u.name, u.protocol, u.predictorHost, u.explainerHost)
	return nil
}

// HTTPClient returns the HTTP client for op. Both operations share one
// connection pool, created once; each has its own circuit breaker so
// explainer failures never open the predictor's breaker.
func (u *Unit) HTTPClient(op OperationKind) *httpclient.HTTPClient {
	if clients := u.httpClients.Load(); clients != nil {
		return clients[op]
	}
	v, _, _ := u.group.Do("http", func() (any, error) {
		if clients := u.httpClients.Load(); clients != nil {
			return clients, nil
		}
		config := u.httpConfig
		config.Name = u.name
		config.Timeout = u.timeout
		config.CBConfig = nil
		pool := httpclient.NewConnFromConfig(&config)

		clients := &[2]*httpclient.HTTPClient{}
		for _, kind := range []OperationKind{Predictor, Explainer} {
			name := u.transportName(kind)
			var breaker *circuitbreaker.Config
			if cb := u.breakers[kind]; cb != nil {
				named := *cb
				if named.Name == "" {
					named.Name = name
				}
				breaker = &named
			}
			clients[kind] = pool.WithCircuitBreaker(name, breaker)
		}
		u.httpClients.Store(clients)
		return clients, nil
	})
	return v.(*[2]*httpclient.HTTPClient)[op]
}

// transportName tags metrics and breakers, e.g. "sklearn-iris-predict".
func (u *Unit) transportName(op OperationKind) string {
	return u.name + "-" + op.String()
}

// GRPCClient returns the unit's channel to the predictor, creating it once.
func (u *Unit) GRPCClient() (*grpcclient.GRPCClient, error) {
	if c := u.grpcClient.Load(); c != nil {
		return c, nil
	}
	v, err, _ := u.group.Do("grpc", func() (any, error) {
		if c := u.grpcClient.Load(); c != nil {
			return c, nil
		}
		config := u.grpcConfig
		config.Name = u.transportName(Predictor)
		config.Target = u.predictorHost
		config.Timeout = u.timeout
		c, err := grpcclient.NewConnFromConfig(&config)
		if err != nil {
			return nil, err
		}
		u.grpcClient.Store(c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grpcclient.GRPCClient), nil
}

// Close releases the gRPC channel, if one was created.
func (u *Unit) Close() error {
	if c := u.grpcClient.Load(); c != nil {
		return c.Close()
	}
	return nil
}
