package metric

import (
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	ApiRequestCount           = "api_request_count"
	ApiRequestLatency         = "api_request_latency"
	ExternalApiRequestCount   = "external_api_request_count"
	ExternalApiRequestLatency = "external_api_request_latency"
	PipelineRequestCount      = "pipeline_request_count"
	PipelineRequestLatency    = "pipeline_request_latency"
	CBStateChanged            = "cb_state_changed"
	LogRbInitialized          = "log_rb_initialized"
	LogRbDropped              = "log_rb_dropped"
)

// Config holds what the statsd client needs to report to telegraf.
type Config struct {
	AppEnv       string
	AppName      string
	TelegrafHost string
	TelegrafPort string
	SamplingRate float64
}

var (
	// it is safe to use one client from multiple goroutines simultaneously
	statsDClient = getDefaultClient()
	// by default full sampling
	samplingRate = 1.0
	appName      = ""
	initialized  = false
	once         sync.Once
)

// Init initializes the metrics client
func Init(config Config) {
	if initialized {
		log.Debug().Msgf("Metrics already initialized!")
		return
	}
	once.Do(func() {
		samplingRate = config.SamplingRate
		appName = config.AppName
		telegrafAddress := getTelegrafAddress(config)
		globalTags := getGlobalTags(config)

		client, err := statsd.New(
			telegrafAddress,
			statsd.WithTags(globalTags),
		)
		if err != nil {
			// telegraf is often absent locally; keep the default client
			log.Error().Err(err).Msg("StatsD client initialization failed, metrics will be unavailable")
			return
		}
		statsDClient = client
		log.Info().Msgf("Metrics client initialized with telegraf address - %s, global tags - %v, and "+
			"sampling rate - %f", telegrafAddress, globalTags, samplingRate)
		initialized = true
	})
}

func getDefaultClient() *statsd.Client {
	client, err := statsd.New("localhost:8125")
	if err != nil {
		client, _ = statsd.New("localhost:8125", statsd.WithoutTelemetry())
	}
	return client
}

func getTelegrafAddress(config Config) string {
	host := config.TelegrafHost
	if host == "" {
		host = "localhost"
	}
	port := config.TelegrafPort
	if port == "" {
		port = "8125"
	}
	return host + ":" + port
}

func getGlobalTags(config Config) []string {
	if len(config.AppEnv) == 0 {
		log.Warn().Msg("APP_ENV is not set")
	}
	if len(config.AppName) == 0 {
		log.Warn().Msg("APP_NAME is not set")
	}
	return []string{
		TagAsString(TagEnv, config.AppEnv),
		TagAsString(TagService, config.AppName),
	}
}

// Timing sends timing information
func Timing(name string, value time.Duration, tags []string) {
	tags = append(tags, TagAsString(TagService, appName))
	err := statsDClient.Timing(name, value, tags, samplingRate)
	if err != nil {
		log.Warn().Err(err).Msg("statsd timing failed")
	}
}

// TimingWithStart can be deferred at the top of a function with time.Now()
func TimingWithStart(name string, startTime time.Time, tags []string) {
	Timing(name, time.Since(startTime), tags)
}

// Count Increases metric counter by value
func Count(name string, value int64, tags []string) {
	tags = append(tags, TagAsString(TagService, appName))
	err := statsDClient.Count(name, value, tags, samplingRate)
	if err != nil {
		log.Warn().Err(err).Msg("statsd count failed")
	}
}

// Incr Increases metric counter by 1
func Incr(name string, tags []string) {
	Count(name, 1, tags)
}

func Gauge(name string, value float64, tags []string) {
	tags = append(tags, TagAsString(TagService, appName))
	err := statsDClient.Gauge(name, value, tags, samplingRate)
	if err != nil {
		log.Warn().Err(err).Msg("statsd gauge failed")
	}
}

func BuildExternalHTTPServiceTags(service, path, method string, statusCode int) []string {
	return BuildTag(
		NewTag(TagCommunicationProtocol, TagValueCommunicationProtocolHttp),
		NewTag(TagExternalService, service),
		NewTag(TagPath, path),
		NewTag(TagMethod, method),
		NewTag(TagHttpStatusCode, strconv.Itoa(statusCode)),
	)
}

func BuildExternalGRPCServiceTags(service, method string, statusCode int) []string {
	return BuildTag(
		NewTag(TagCommunicationProtocol, TagValueCommunicationProtocolGrpc),
		NewTag(TagExternalService, service),
		NewTag(TagMethod, method),
		NewTag(TagGrpcStatusCode, strconv.Itoa(statusCode)),
	)
}

func BuildPipelineTags(model, operation string, statusCode int) []string {
	return BuildTag(
		NewTag(TagModel, model),
		NewTag(TagOperation, operation),
		NewTag(TagHttpStatusCode, strconv.Itoa(statusCode)),
	)
}
