package grpcclient

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	DefaultPort                = "80"
	defaultLoadBalancingPolicy = "round_robin"
)

type Config struct {
	// Name tags the external_api metrics; serving units use "<model>-predict".
	Name string
	// Target is host[:port]; DefaultPort is used when no port is given.
	Target              string
	Timeout             time.Duration
	LoadBalancingPolicy string
}

// GRPCClient is an insecure channel to one backend, shared by every call.
type GRPCClient struct {
	Conn    *grpc.ClientConn
	Timeout time.Duration
	name    string
}

func NewConnFromConfig(config *Config) (*GRPCClient, error) {
	if config.Target == "" {
		return nil, errors.New("target is not set")
	}
	if config.Timeout <= 0 {
		return nil, errors.New("timeout is not set or is negative")
	}
	policy := config.LoadBalancingPolicy
	if policy == "" {
		log.Warn().Msgf("Load balancing policy is not set for %s. Setting it to %s", config.Target, defaultLoadBalancingPolicy)
		policy = defaultLoadBalancingPolicy
	}
	target := WithDefaultPort(config.Target)
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"`+policy+`"}`),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("gRPC channel for %s created against %s", config.Name, target)
	return &GRPCClient{Conn: conn, Timeout: config.Timeout, name: config.Name}, nil
}

// WithDefaultPort appends DefaultPort to host when it carries no port.
// Bracketed IPv6 literals such as "[::1]" are accepted.
func WithDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return net.JoinHostPort(host, DefaultPort)
}

// Invoke is a wrapper around grpc.ClientConn.Invoke that bounds the call by
// the client timeout and emits external api metrics.
func (c *GRPCClient) Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	startTime := time.Now()
	err := c.Conn.Invoke(ctx, method, args, reply, opts...)
	code := status.Code(err)
	tags := metric.BuildExternalGRPCServiceTags(c.name, method, int(code))
	metric.Timing(metric.ExternalApiRequestLatency, time.Since(startTime), tags)
	metric.Incr(metric.ExternalApiRequestCount, tags)
	return err
}

func (c *GRPCClient) Close() error {
	return c.Conn.Close()
}
