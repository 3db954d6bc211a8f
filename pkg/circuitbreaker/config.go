package circuitbreaker

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	CBEnabled                  = "_CB_ENABLED"
	CBName                     = "_CB_NAME"
	CBFailureRateThreshold     = "_CB_FAILURE_RATE_THRESHOLD"
	CBFailureRateMinimumWindow = "_CB_FAILURE_RATE_MINIMUM_WINDOW"
	CBFailureRateWindowInMs    = "_CB_FAILURE_RATE_WINDOW_IN_MS"
	CBFailureCountThreshold    = "_CB_FAILURE_COUNT_THRESHOLD"
	CBFailureCountWindow       = "_CB_FAILURE_COUNT_WINDOW"
	CBSuccessCountThreshold    = "_CB_SUCCESS_COUNT_THRESHOLD"
	CBSuccessCountWindow       = "_CB_SUCCESS_COUNT_WINDOW"
	CBWithDelayInMS            = "_CB_WITH_DELAY_IN_MS"
)

// Config controls a breaker guarding one backend.
type Config struct {
	// Enabled false means every call passes straight through.
	Enabled bool
	Name    string

	// FailureRateThreshold is a percentage (1-100) of failures within
	// FailureRateWindowInMs that opens the breaker, once at least
	// FailureRateMinimumWindow executions were recorded.
	FailureRateThreshold     int
	FailureRateMinimumWindow int
	FailureRateWindowInMs    int

	// FailureCountThreshold out of the last FailureCountWindow executions
	// opens the breaker. Used when the rate-based fields are unset.
	FailureCountThreshold int
	FailureCountWindow    int

	// SuccessCountThreshold out of SuccessCountWindow trial executions in
	// half-open state closes the breaker again.
	SuccessCountThreshold int
	SuccessCountWindow    int

	// WithDelayInMS is how long the breaker stays open before half-opening.
	WithDelayInMS int
}

func (c *Config) rateBased() bool {
	return c.FailureRateThreshold > 0 && c.FailureRateMinimumWindow > 0 && c.FailureRateWindowInMs > 0
}

func (c *Config) countBased() bool {
	return c.FailureCountThreshold > 0 && c.FailureCountWindow > 0
}

// BuildConfig reads <prefix>_CB_* keys from viper. It panics on an enabled
// but incomplete configuration.
func BuildConfig(prefix string) *Config {
	cbConfig := Config{}
	if !viper.GetBool(prefix + CBEnabled) {
		return &cbConfig
	}
	validateConfigs(prefix)
	cbConfig.Enabled = true
	cbConfig.Name = viper.GetString(prefix + CBName)
	cbConfig.FailureRateThreshold = viper.GetInt(prefix + CBFailureRateThreshold)
	cbConfig.FailureRateMinimumWindow = viper.GetInt(prefix + CBFailureRateMinimumWindow)
	cbConfig.FailureRateWindowInMs = viper.GetInt(prefix + CBFailureRateWindowInMs)
	cbConfig.FailureCountThreshold = viper.GetInt(prefix + CBFailureCountThreshold)
	cbConfig.FailureCountWindow = viper.GetInt(prefix + CBFailureCountWindow)
	cbConfig.SuccessCountThreshold = viper.GetInt(prefix + CBSuccessCountThreshold)
	cbConfig.SuccessCountWindow = viper.GetInt(prefix + CBSuccessCountWindow)
	cbConfig.WithDelayInMS = viper.GetInt(prefix + CBWithDelayInMS)
	if !cbConfig.rateBased() && !cbConfig.countBased() {
		log.Panic().Msgf("%s: neither time-based nor count-based failure thresholds are fully defined", prefix)
	}
	return &cbConfig
}

func validateConfigs(prefix string) {
	for _, key := range []string{CBName, CBSuccessCountThreshold, CBSuccessCountWindow, CBWithDelayInMS} {
		if !viper.IsSet(prefix + key) {
			log.Panic().Msgf("%s%s not set", prefix, key)
		}
	}
	if viper.IsSet(prefix + CBFailureRateThreshold) {
		if !viper.IsSet(prefix + CBFailureRateMinimumWindow) {
			log.Panic().Msgf("%s%s not set, required for time-based failure thresholding", prefix, CBFailureRateMinimumWindow)
		}
		if !viper.IsSet(prefix + CBFailureRateWindowInMs) {
			log.Panic().Msgf("%s%s not set, required for time-based failure thresholding", prefix, CBFailureRateWindowInMs)
		}
	}
}
