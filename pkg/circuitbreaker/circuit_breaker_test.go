package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupViper(configs map[string]interface{}) {
	viper.Reset()
	for key, value := range configs {
		viper.Set(key, value)
	}
}

func validConfig() map[string]interface{} {
	return map[string]interface{}{
		"PREDICTOR" + CBEnabled:                  true,
		"PREDICTOR" + CBName:                     "predictor",
		"PREDICTOR" + CBFailureRateThreshold:     50,
		"PREDICTOR" + CBFailureRateMinimumWindow: 20,
		"PREDICTOR" + CBFailureRateWindowInMs:    10000,
		"PREDICTOR" + CBSuccessCountThreshold:    3,
		"PREDICTOR" + CBSuccessCountWindow:       5,
		"PREDICTOR" + CBWithDelayInMS:            1000,
	}
}

func TestBuildConfig_DisabledByDefault(t *testing.T) {
	viper.Reset()
	config := BuildConfig("PREDICTOR")
	assert.False(t, config.Enabled)
	assert.Nil(t, New[int, int](config))
}

func TestBuildConfig_Enabled(t *testing.T) {
	setupViper(validConfig())
	defer viper.Reset()

	config := BuildConfig("PREDICTOR")
	assert.True(t, config.Enabled)
	assert.Equal(t, "predictor", config.Name)
	assert.Equal(t, 50, config.FailureRateThreshold)
	assert.Equal(t, 20, config.FailureRateMinimumWindow)
	assert.Equal(t, 10000, config.FailureRateWindowInMs)
	assert.Equal(t, 1000, config.WithDelayInMS)
}

func TestBuildConfig_MissingMandatory(t *testing.T) {
	for _, missing := range []string{CBName, CBSuccessCountThreshold, CBSuccessCountWindow, CBWithDelayInMS, CBFailureRateWindowInMs} {
		t.Run(missing, func(t *testing.T) {
			config := validConfig()
			delete(config, "PREDICTOR"+missing)
			setupViper(config)
			defer viper.Reset()
			assert.Panics(t, func() { BuildConfig("PREDICTOR") })
		})
	}
}

func TestBuildConfig_NoThresholds(t *testing.T) {
	config := validConfig()
	delete(config, "PREDICTOR"+CBFailureRateThreshold)
	setupViper(config)
	defer viper.Reset()
	assert.Panics(t, func() { BuildConfig("PREDICTOR") })
}

func TestExecute(t *testing.T) {
	cb := New[int, int](&Config{
		Enabled:               true,
		Name:                  "test",
		FailureCountThreshold: 1,
		FailureCountWindow:    1,
		SuccessCountThreshold: 1,
		SuccessCountWindow:    1,
		WithDelayInMS:         60000,
	})
	assert.NotNil(t, cb)

	result, err := cb.Execute(5, func(i int) (int, error) { return i * 2, nil })
	assert.NoError(t, err)
	assert.Equal(t, 10, result)

	boom := errors.New("boom")
	_, err = cb.Execute(5, func(int) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	called := false
	_, err = cb.Execute(5, func(int) (int, error) {
		called = true
		return 0, nil
	})
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}
