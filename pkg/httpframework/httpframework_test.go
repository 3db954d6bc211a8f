package httpframework

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/api"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunsExtraMiddlewares(t *testing.T) {
	called := false
	r, err := New("serving-adapter", "test", func(c *gin.Context) {
		called = true
		c.Next()
	})
	require.NoError(t, err)

	r.GET("/health/self", func(c *gin.Context) { c.String(http.StatusOK, "true") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/self", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestNewRendersAPIErrors(t *testing.T) {
	r, err := New("serving-adapter", "test")
	require.NoError(t, err)
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(api.NewNotFoundError("Model with name m does not exist."))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Model with name m does not exist."}`, w.Body.String())
}

func TestNewRequiresAppName(t *testing.T) {
	_, err := New("", "test")
	assert.Error(t, err)
}
