package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/apiary/dispatch"
)

// Health reports liveness plus how many worker pools are currently warm.
func Health(reg *dispatch.Registry, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
			"pools":  reg.Size(),
		})
	}
}
