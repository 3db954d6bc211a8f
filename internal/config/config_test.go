package config

import (
	"testing"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/serving"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := InitConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "serving-adapter", cfg.AppName)
	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, "model", cfg.ModelName)
	assert.Equal(t, "v1", cfg.Protocol)
	assert.Equal(t, 600, cfg.TimeoutInSec)
	assert.False(t, cfg.PredictorCircuitBreaker.Enabled)

	unit := cfg.UnitConfig()
	assert.Equal(t, serving.RestV1, unit.Protocol)
	assert.Equal(t, serving.DefaultTimeout, unit.Timeout)
	assert.Equal(t, "round_robin", unit.GRPC.LoadBalancingPolicy)
}

func TestInitConfigFromEnv(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("MODEL_NAME", "sklearn-iris")
	t.Setenv("PROTOCOL", "grpc-v2")
	t.Setenv("PREDICTOR_HOST", "sklearn-iris-predictor.default")
	t.Setenv("TIMEOUT_IN_SEC", "30")
	t.Setenv("APP_PORT", "9081")
	t.Setenv("HTTP_MAX_IDLE_CONNS", "64")

	cfg, err := InitConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "sklearn-iris", cfg.ModelName)
	assert.Equal(t, 9081, cfg.AppPort)

	unit := cfg.UnitConfig()
	assert.Equal(t, serving.GrpcV2, unit.Protocol)
	assert.Equal(t, "sklearn-iris-predictor.default", unit.PredictorHost)
	assert.Equal(t, 30*time.Second, unit.Timeout)
	assert.Equal(t, 64, unit.HTTP.Transport.MaxIdleConns)
}

func TestInitConfigFlagsOverrideEnv(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("PREDICTOR_HOST", "from-env")

	cfg, err := InitConfig([]string{"--predictor_host", "from-flag:8080", "--model_name", "m", "--http_port", "9000", "--timeout", "5"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag:8080", cfg.PredictorHost)
	assert.Equal(t, "m", cfg.ModelName)
	assert.Equal(t, 9000, cfg.AppPort)
	assert.Equal(t, 5, cfg.TimeoutInSec)
}

func TestInitConfigCircuitBreaker(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("PREDICTOR_CB_ENABLED", "true")
	t.Setenv("PREDICTOR_CB_NAME", "predictor")
	t.Setenv("PREDICTOR_CB_FAILURE_COUNT_THRESHOLD", "5")
	t.Setenv("PREDICTOR_CB_FAILURE_COUNT_WINDOW", "10")
	t.Setenv("PREDICTOR_CB_SUCCESS_COUNT_THRESHOLD", "3")
	t.Setenv("PREDICTOR_CB_SUCCESS_COUNT_WINDOW", "5")
	t.Setenv("PREDICTOR_CB_WITH_DELAY_IN_MS", "1000")

	cfg, err := InitConfig(nil)
	require.NoError(t, err)
	require.True(t, cfg.PredictorCircuitBreaker.Enabled)
	assert.Equal(t, 5, cfg.PredictorCircuitBreaker.FailureCountThreshold)
	assert.False(t, cfg.ExplainerCircuitBreaker.Enabled)

	unitConfig := cfg.UnitConfig()
	assert.Same(t, cfg.PredictorCircuitBreaker, unitConfig.PredictorCircuitBreaker)
	assert.Same(t, cfg.ExplainerCircuitBreaker, unitConfig.ExplainerCircuitBreaker)
	assert.Nil(t, unitConfig.HTTP.CBConfig)
}

func TestInitConfigExplainerCircuitBreaker(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("EXPLAINER_CB_ENABLED", "true")
	t.Setenv("EXPLAINER_CB_NAME", "explainer")
	t.Setenv("EXPLAINER_CB_WITH_DELAY_IN_MS", "500")
	t.Setenv("EXPLAINER_CB_FAILURE_RATE_THRESHOLD", "50")
	t.Setenv("EXPLAINER_CB_FAILURE_RATE_MINIMUM_WINDOW", "20")
	t.Setenv("EXPLAINER_CB_FAILURE_RATE_WINDOW_IN_MS", "10000")
	t.Setenv("EXPLAINER_CB_SUCCESS_COUNT_THRESHOLD", "1")
	t.Setenv("EXPLAINER_CB_SUCCESS_COUNT_WINDOW", "1")

	cfg, err := InitConfig(nil)
	require.NoError(t, err)
	assert.False(t, cfg.PredictorCircuitBreaker.Enabled)
	require.True(t, cfg.ExplainerCircuitBreaker.Enabled)
	assert.Equal(t, 50, cfg.ExplainerCircuitBreaker.FailureRateThreshold)
}

func TestValidate(t *testing.T) {
	valid := Configs{ModelName: "m", Protocol: "v2", TimeoutInSec: 1, AppPort: 8080}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Configs)
	}{
		{"no model name", func(c *Configs) { c.ModelName = "" }},
		{"bad protocol", func(c *Configs) { c.Protocol = "grpc-v1" }},
		{"zero timeout", func(c *Configs) { c.TimeoutInSec = 0 }},
		{"bad port", func(c *Configs) { c.AppPort = 70000 }},
		{"tracing without endpoint", func(c *Configs) { c.TracingEnabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestInitConfigRejectsUnknownFlag(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	_, err := InitConfig([]string{"--workers", "4"})
	assert.Error(t, err)
}

func TestLoggerConfigFromEnv(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("APP_LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_RB_SIZE", "4096")
	t.Setenv("LOG_RB_DRAINING_INTERVAL_IN_MS", "20")

	c, err := InitConfig(nil)
	require.NoError(t, err)

	lc := c.LoggerConfig()
	assert.Equal(t, "serving-adapter", lc.AppName)
	assert.Equal(t, "DEBUG", lc.Level)
	assert.Equal(t, 4096, lc.RingBufferSize)
	assert.Equal(t, 20*time.Millisecond, lc.DrainInterval)
}
