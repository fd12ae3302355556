package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rinkside/rinkside/cmd/api-gateway/types"
	"github.com/rinkside/rinkside/internal/upload"
	"github.com/rs/zerolog/log"
)

const healthTimeout = 2 * time.Second

// HealthRoutes registers GET /health. Every checker is pinged on each call;
// any failure reports the service as degraded with 503.
func HealthRoutes(r gin.IRoutes, sessions upload.SessionStore, started time.Time, checkers map[string]HealthChecker) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		resp := types.HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(started).Seconds(),
			Services:  make(map[string]string, len(checkers)+1),
		}

		count, err := sessions.Len(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Health check: session store unavailable")
			resp.Status = "degraded"
			resp.Services["sessions"] = "down"
		} else {
			resp.Services["sessions"] = "up"
			resp.Sessions = count
		}

		for name, checker := range checkers {
			if err := checker.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("service", name).Msg("Health check failed")
				resp.Status = "degraded"
				resp.Services[name] = "down"
				continue
			}
			resp.Services[name] = "up"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	})
}
