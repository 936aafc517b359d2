package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is the taskrouter build version, overridden at build time via -ldflags.
var Version = "0.0.0-dev"

// ReqLoggerKey is the context key used to store the request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the provided fallback logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// TaskFields returns a variadic slice of key/value pairs suitable for passing
// to SugaredLogger.With or Infow/Errorw calls when logging about one Task.
func TaskFields(organizationID, taskID string) []interface{} {
	if organizationID == "" {
		return []interface{}{"task", taskID}
	}
	return []interface{}{"task", taskID, "organization", organizationID}
}
