package config

import (
	"fmt"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/serving"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/circuitbreaker"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/grpcclient"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/httpclient"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/logger"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/tracing"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Prefixes of the <PREFIX>_CB_* keys read by circuitbreaker.BuildConfig.
const (
	predictorBreakerPrefix = "PREDICTOR"
	explainerBreakerPrefix = "EXPLAINER"
)

type Configs struct {
	AppEnv                string  `mapstructure:"app_env"`
	AppName               string  `mapstructure:"app_name"`
	AppLogLevel           string  `mapstructure:"app_log_level"`
	AppPort               int     `mapstructure:"app_port"`
	AppMetricSamplingRate float64 `mapstructure:"app_metric_sampling_rate"`

	LogRingBufferSize      int `mapstructure:"log_rb_size"`
	LogRingBufferDrainInMs int `mapstructure:"log_rb_draining_interval_in_ms"`

	TelegrafHost string `mapstructure:"telegraf_host"`
	TelegrafPort string `mapstructure:"telegraf_port"`

	TracingEnabled       bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint      string  `mapstructure:"tracing_endpoint"`
	TracingSamplingRatio float64 `mapstructure:"tracing_sampling_ratio"`

	ModelName     string `mapstructure:"model_name"`
	Protocol      string `mapstructure:"protocol"`
	PredictorHost string `mapstructure:"predictor_host"`
	ExplainerHost string `mapstructure:"explainer_host"`
	TimeoutInSec  int    `mapstructure:"timeout_in_sec"`

	HTTPMaxIdleConns         int `mapstructure:"http_max_idle_conns"`
	HTTPMaxIdleConnsPerHost  int `mapstructure:"http_max_idle_conns_per_host"`
	HTTPIdleConnTimeoutInMs  int `mapstructure:"http_idle_conn_timeout_in_ms"`
	HTTPDialTimeoutInMs      int `mapstructure:"http_dial_timeout_in_ms"`
	HTTPKeepAliveTimeoutInMs int `mapstructure:"http_keep_alive_timeout_in_ms"`

	GRPCLoadBalancingPolicy string `mapstructure:"grpc_load_balancing_policy"`

	PredictorCircuitBreaker *circuitbreaker.Config `mapstructure:"-"`
	ExplainerCircuitBreaker *circuitbreaker.Config `mapstructure:"-"`
}

// Flags declares the command line flags that override the environment.
func Flags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("serving-adapter", pflag.ContinueOnError)
	flags.String("model_name", "", "the name that the model is served under")
	flags.String("protocol", "", "the protocol used by the predictor: v1, v2 or grpc-v2")
	flags.String("predictor_host", "", "the host for the predictor")
	flags.String("explainer_host", "", "the host for the explainer")
	flags.Int("http_port", 0, "the HTTP port listened to by the adapter")
	flags.Int("timeout", 0, "timeout in seconds for calls to the predictor and explainer")
	return flags
}

// InitConfig loads Configs from flags, environment and defaults, in that order
// of precedence.
func InitConfig(args []string) (*Configs, error) {
	flags := Flags()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	setDefaults()
	bindEnvVars()
	if err := bindFlags(flags); err != nil {
		return nil, err
	}

	cfg := &Configs{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.PredictorCircuitBreaker = circuitbreaker.BuildConfig(predictorBreakerPrefix)
	cfg.ExplainerCircuitBreaker = circuitbreaker.BuildConfig(explainerBreakerPrefix)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("app_name", "serving-adapter")
	viper.SetDefault("app_log_level", "INFO")
	viper.SetDefault("app_port", 8080)
	viper.SetDefault("app_metric_sampling_rate", 1.0)
	viper.SetDefault("telegraf_host", "localhost")
	viper.SetDefault("telegraf_port", "8125")
	viper.SetDefault("tracing_sampling_ratio", 0.1)
	viper.SetDefault("model_name", "model")
	viper.SetDefault("protocol", string(serving.RestV1))
	viper.SetDefault("timeout_in_sec", int(serving.DefaultTimeout/time.Second))
	viper.SetDefault("grpc_load_balancing_policy", "round_robin")
}

func bindEnvVars() {
	// Application config
	viper.BindEnv("app_env", "APP_ENV")
	viper.BindEnv("app_name", "APP_NAME")
	viper.BindEnv("app_log_level", "APP_LOG_LEVEL")
	viper.BindEnv("app_port", "APP_PORT")
	viper.BindEnv("app_metric_sampling_rate", "APP_METRIC_SAMPLING_RATE")

	// Logger config
	viper.BindEnv("log_rb_size", "LOG_RB_SIZE")
	viper.BindEnv("log_rb_draining_interval_in_ms", "LOG_RB_DRAINING_INTERVAL_IN_MS")

	// Telegraf config
	viper.BindEnv("telegraf_host", "TELEGRAF_HOST")
	viper.BindEnv("telegraf_port", "TELEGRAF_PORT")

	// Tracing config
	viper.BindEnv("tracing_enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("tracing_sampling_ratio", "OTEL_TRACES_SAMPLER_ARG")

	// Model config
	viper.BindEnv("model_name", "MODEL_NAME")
	viper.BindEnv("protocol", "PROTOCOL")
	viper.BindEnv("predictor_host", "PREDICTOR_HOST")
	viper.BindEnv("explainer_host", "EXPLAINER_HOST")
	viper.BindEnv("timeout_in_sec", "TIMEOUT_IN_SEC")

	// Transport config
	viper.BindEnv("http_max_idle_conns", "HTTP_MAX_IDLE_CONNS")
	viper.BindEnv("http_max_idle_conns_per_host", "HTTP_MAX_IDLE_CONNS_PER_HOST")
	viper.BindEnv("http_idle_conn_timeout_in_ms", "HTTP_IDLE_CONN_TIMEOUT_IN_MS")
	viper.BindEnv("http_dial_timeout_in_ms", "HTTP_DIAL_TIMEOUT_IN_MS")
	viper.BindEnv("http_keep_alive_timeout_in_ms", "HTTP_KEEP_ALIVE_TIMEOUT_IN_MS")
	viper.BindEnv("grpc_load_balancing_policy", "GRPC_LOAD_BALANCING_POLICY")

	// Circuit breaker config, read by circuitbreaker.BuildConfig
	for _, key := range []string{
		circuitbreaker.CBEnabled,
		circuitbreaker.CBName,
		circuitbreaker.CBFailureRateThreshold,
		circuitbreaker.CBFailureRateMinimumWindow,
		circuitbreaker.CBFailureRateWindowInMs,
		circuitbreaker.CBFailureCountThreshold,
		circuitbreaker.CBFailureCountWindow,
		circuitbreaker.CBSuccessCountThreshold,
		circuitbreaker.CBSuccessCountWindow,
		circuitbreaker.CBWithDelayInMS,
	} {
		viper.BindEnv(predictorBreakerPrefix + key)
		viper.BindEnv(explainerBreakerPrefix + key)
	}
}

func bindFlags(flags *pflag.FlagSet) error {
	for key, flag := range map[string]string{
		"model_name":     "model_name",
		"protocol":       "protocol",
		"predictor_host": "predictor_host",
		"explainer_host": "explainer_host",
		"app_port":       "http_port",
		"timeout_in_sec": "timeout",
	} {
		// only flags given on the command line override the environment
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := viper.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Configs) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if _, err := serving.ParseProtocol(c.Protocol); err != nil {
		return err
	}
	if c.TimeoutInSec <= 0 {
		return fmt.Errorf("timeout_in_sec must be positive, got %d", c.TimeoutInSec)
	}
	if c.AppPort <= 0 || c.AppPort > 65535 {
		return fmt.Errorf("app_port %d is out of range", c.AppPort)
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when tracing is enabled")
	}
	return nil
}

// UnitConfig returns the serving unit described by c.
func (c *Configs) UnitConfig() serving.Config {
	protocol, _ := serving.ParseProtocol(c.Protocol)
	return serving.Config{
		Name:          c.ModelName,
		Protocol:      protocol,
		PredictorHost: c.PredictorHost,
		ExplainerHost: c.ExplainerHost,
		Timeout:       time.Duration(c.TimeoutInSec) * time.Second,
		HTTP: httpclient.Config{
			Transport: &httpclient.TransportConfig{
				DialTimeoutInMs:      c.HTTPDialTimeoutInMs,
				MaxIdleConns:         c.HTTPMaxIdleConns,
				MaxIdleConnsPerHost:  c.HTTPMaxIdleConnsPerHost,
				IdleConnTimeoutInMs:  c.HTTPIdleConnTimeoutInMs,
				KeepAliveTimeoutInMs: c.HTTPKeepAliveTimeoutInMs,
			},
		},
		GRPC: grpcclient.Config{
			LoadBalancingPolicy: c.GRPCLoadBalancingPolicy,
		},

		PredictorCircuitBreaker: c.PredictorCircuitBreaker,
		ExplainerCircuitBreaker: c.ExplainerCircuitBreaker,
	}
}

func (c *Configs) LoggerConfig() logger.Config {
	return logger.Config{
		AppName:        c.AppName,
		Level:          c.AppLogLevel,
		RingBufferSize: c.LogRingBufferSize,
		DrainInterval:  time.Duration(c.LogRingBufferDrainInMs) * time.Millisecond,
	}
}

func (c *Configs) MetricConfig() metric.Config {
	return metric.Config{
		AppEnv:       c.AppEnv,
		AppName:      c.AppName,
		TelegrafHost: c.TelegrafHost,
		TelegrafPort: c.TelegrafPort,
		SamplingRate: c.AppMetricSamplingRate,
	}
}

func (c *Configs) TracingConfig() tracing.Config {
	return tracing.Config{
		ServiceName:   c.AppName,
		Endpoint:      c.TracingEndpoint,
		SamplingRatio: c.TracingSamplingRatio,
	}
}
