package middleware

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/api"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HTTPRecovery renders the last *api.Error attached to the context as
// {"error": message} and turns panics into 500s.
func HTTPRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Msgf("Panic occurred: %v\n%s", err, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%v", err)})
				return
			}
			if len(c.Errors) > 0 && !c.Writer.Written() {
				var apiErr *api.Error
				if stderrors.As(c.Errors.Last().Err, &apiErr) {
					c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
				}
			}
		}()
		c.Next()
	}
}
