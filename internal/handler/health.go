package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"papertrade/internal/service"
)

type HealthHandler struct {
	DB        *gorm.DB
	Heartbeat *service.Heartbeat
	Now       func() time.Time
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Description Fails when the database is unreachable or a loop has been failing for more than three intervals.
// @Tags health
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB != nil {
		sqlDB, err := h.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
			return
		}
	}
	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now()
	}
	if bad := h.Heartbeat.Unhealthy(now); len(bad) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loops_failing", "loops": bad})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "loops": h.Heartbeat.Snapshot()})
}
