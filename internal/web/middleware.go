package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjeanneret/RaspiCam/internal/debug"
)

// requestLogger logs each request at debug level, server errors at error.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := debug.Logger().Debug()
		if status >= http.StatusInternalServerError {
			ev = debug.Logger().Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func handlePanics() gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		debug.Error(fmt.Errorf("%v", recovered), "panic serving %s", c.Request.URL.Path)
		if err, ok := recovered.(error); ok {
			c.String(http.StatusInternalServerError, err.Error())
		}
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}
