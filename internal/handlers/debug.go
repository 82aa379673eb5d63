package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.SessionEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/session-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), requestIDFromContext(c), nil, telemetry.SessionPayload{
			Room:   "debug",
			Event:  "session_test",
			ConnID: "debug",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
