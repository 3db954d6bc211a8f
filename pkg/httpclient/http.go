package httpclient

import (
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/circuitbreaker"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultDialTimeoutInMs      = 30000
	defaultKeepAliveTimeoutInMs = 30000
	defaultIdleConnTimeoutInMs  = 90000
	defaultMaxIdleConns         = 1024
)

type Config struct {
	// Name tags the external_api metrics; serving units use "<model>-<operation>".
	Name      string
	Timeout   time.Duration
	CBConfig  *circuitbreaker.Config
	Transport *TransportConfig
}

type TransportConfig struct {
	DialTimeoutInMs      int
	MaxIdleConns         int
	MaxIdleConnsPerHost  int
	IdleConnTimeoutInMs  int
	KeepAliveTimeoutInMs int
}

// HTTPClient is a pooled client shared by every call to one backend.
type HTTPClient struct {
	CoreClient     *http.Client
	name           string
	circuitBreaker circuitbreaker.CircuitBreaker[*http.Request, *http.Response]
}

func NewConnFromConfig(config *Config) *HTTPClient {
	return &HTTPClient{
		CoreClient:     getHTTPClient(config),
		name:           config.Name,
		circuitBreaker: circuitbreaker.New[*http.Request, *http.Response](config.CBConfig),
	}
}

// WithCircuitBreaker returns a client sharing h's connection pool whose
// calls are tagged name and guarded by a breaker built from config.
func (h *HTTPClient) WithCircuitBreaker(name string, config *circuitbreaker.Config) *HTTPClient {
	return &HTTPClient{
		CoreClient:     h.CoreClient,
		name:           name,
		circuitBreaker: circuitbreaker.New[*http.Request, *http.Response](config),
	}
}

func getHTTPClient(config *Config) *http.Client {
	log.Debug().Msgf("Creating http client with config: %+v", config)
	return &http.Client{
		Transport: otelhttp.NewTransport(getHttpTransportFromConfig(config.Transport)),
		Timeout:   config.Timeout,
	}
}

func getHttpTransportFromConfig(transport *TransportConfig) *http.Transport {
	if transport == nil {
		transport = &TransportConfig{}
	}
	dialTimeout := orDefault(transport.DialTimeoutInMs, defaultDialTimeoutInMs)
	keepAlive := orDefault(transport.KeepAliveTimeoutInMs, defaultKeepAliveTimeoutInMs)
	transporter := http.DefaultTransport.(*http.Transport).Clone()
	transporter.DialContext = (&net.Dialer{
		Timeout:   time.Duration(dialTimeout) * time.Millisecond,
		KeepAlive: time.Duration(keepAlive) * time.Millisecond,
	}).DialContext
	transporter.MaxIdleConns = orDefault(transport.MaxIdleConns, defaultMaxIdleConns)
	transporter.MaxIdleConnsPerHost = orDefault(transport.MaxIdleConnsPerHost, defaultMaxIdleConns)
	transporter.IdleConnTimeout = time.Duration(orDefault(transport.IdleConnTimeoutInMs, defaultIdleConnTimeoutInMs)) * time.Millisecond
	return transporter
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Do is a wrapper around http.Client.Do that emits external api metrics and
// runs through the circuit breaker when one is configured.
func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	startTime := time.Now()
	var resp *http.Response
	var err error
	if h.circuitBreaker == nil {
		resp, err = h.CoreClient.Do(req)
	} else {
		resp, err = h.circuitBreaker.Execute(req, h.CoreClient.Do)
	}
	if resp == nil {
		if os.IsTimeout(err) {
			log.Error().Err(err).Msgf("Request to %s timed out", h.name)
			h.emitMetrics(req, startTime, http.StatusGatewayTimeout)
			return nil, err
		}
		// no status code is available for transport errors
		h.emitMetrics(req, startTime, 0)
		return nil, err
	}
	h.emitMetrics(req, startTime, resp.StatusCode)
	return resp, err
}

func (h *HTTPClient) emitMetrics(req *http.Request, startTime time.Time, statusCode int) {
	tags := metric.BuildExternalHTTPServiceTags(h.name, req.URL.Path, req.Method, statusCode)
	metric.Timing(metric.ExternalApiRequestLatency, time.Since(startTime), tags)
	metric.Incr(metric.ExternalApiRequestCount, tags)
}
