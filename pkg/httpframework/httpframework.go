package httpframework

import (
	"errors"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// New builds a gin engine traced under appName with access logging and
// error rendering installed ahead of extra. prod and production
// environments run gin in release mode.
func New(appName, appEnv string, extra ...gin.HandlerFunc) (*gin.Engine, error) {
	if appName == "" {
		return nil, errors.New("httpframework: app name cannot be empty")
	}
	switch appEnv {
	case "prod", "production":
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(otelgin.Middleware(appName), middleware.HTTPLogger(), middleware.HTTPRecovery())
	router.Use(extra...)
	return router, nil
}
