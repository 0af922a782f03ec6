package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade/internal/performance"
)

type SummaryHandler struct {
	Perf *performance.Aggregator
}

func (h *SummaryHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/summary", h.summary)
}

// @Summary System-wide summary over active accounts
// @Tags summary
// @Success 200 {object} apiResponse
// @Router /api/v1/summary [get]
func (h *SummaryHandler) summary(c *gin.Context) {
	if h.Perf == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	out, err := h.Perf.Overview(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}
