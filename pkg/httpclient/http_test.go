package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHttpTransportFromConfigDefaults(t *testing.T) {
	transport := getHttpTransportFromConfig(nil)
	assert.Equal(t, defaultMaxIdleConns, transport.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConns, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, transport.IdleConnTimeout)

	transport = getHttpTransportFromConfig(&TransportConfig{MaxIdleConns: 10, MaxIdleConnsPerHost: 5, IdleConnTimeoutInMs: 1000})
	assert.Equal(t, 10, transport.MaxIdleConns)
	assert.Equal(t, 5, transport.MaxIdleConnsPerHost)
	assert.Equal(t, time.Second, transport.IdleConnTimeout)
}

func TestDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewConnFromConfig(&Config{Name: "predictor", Timeout: time.Second})
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/models/m:predict", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewConnFromConfig(&Config{Name: "predictor", Timeout: 50 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	assert.Nil(t, resp)
	assert.True(t, os.IsTimeout(err))
}

func TestDoWithOpenCircuit(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	serverURL := server.URL
	server.Close()

	client := NewConnFromConfig(&Config{
		Name:    "predictor",
		Timeout: time.Second,
		CBConfig: &circuitbreaker.Config{
			Enabled:               true,
			Name:                  "predictor",
			FailureCountThreshold: 1,
			FailureCountWindow:    1,
			SuccessCountThreshold: 1,
			SuccessCountWindow:    1,
			WithDelayInMS:         60000,
		},
	})

	req, _ := http.NewRequest(http.MethodGet, serverURL, nil)
	_, err := client.Do(req)
	assert.Error(t, err)
	assert.False(t, circuitbreaker.IsOpen(err))

	req, _ = http.NewRequest(http.MethodGet, serverURL, nil)
	_, err = client.Do(req)
	assert.True(t, circuitbreaker.IsOpen(err))
	assert.Equal(t, 0, hits)
}

func TestWithCircuitBreakerSharesPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	pool := NewConnFromConfig(&Config{Name: "iris", Timeout: time.Second})
	guarded := pool.WithCircuitBreaker("iris-explain", &circuitbreaker.Config{
		Enabled:               true,
		Name:                  "iris-explain",
		FailureCountThreshold: 1,
		FailureCountWindow:    1,
		SuccessCountThreshold: 1,
		SuccessCountWindow:    1,
		WithDelayInMS:         60000,
	})
	assert.Same(t, pool.CoreClient, guarded.CoreClient)
	assert.Equal(t, "iris-explain", guarded.name)

	for range 2 {
		req, _ := http.NewRequest(http.MethodGet, serverURL, nil)
		_, err := guarded.Do(req)
		require.Error(t, err)
	}
	req, _ := http.NewRequest(http.MethodGet, serverURL, nil)
	_, err := guarded.Do(req)
	assert.True(t, circuitbreaker.IsOpen(err))

	req, _ = http.NewRequest(http.MethodGet, serverURL, nil)
	_, err = pool.Do(req)
	require.Error(t, err)
	assert.False(t, circuitbreaker.IsOpen(err))
}
