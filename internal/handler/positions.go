package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade/internal/models"
	"papertrade/internal/performance"
	"papertrade/internal/repository"
)

type PositionHandler struct {
	Repo repository.Repository
	Perf *performance.Aggregator
}

func (h *PositionHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/positions/open", h.open)
	r.GET("/api/v1/assets/:asset/performance", h.assetPerformance)
}

// @Summary Open positions across accounts
// @Tags positions
// @Param strategy query string false "strategy"
// @Param asset query string false "asset"
// @Param exchange query string false "exchange"
// @Success 200 {object} apiResponse
// @Router /api/v1/positions/open [get]
func (h *PositionHandler) open(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	status := models.PositionOpen
	items, err := h.Repo.ListPositions(c.Request.Context(), repository.ListPositionsParams{
		Status:   &status,
		Strategy: stringQueryPtr(c, "strategy"),
		Asset:    stringQueryPtr(c, "asset"),
		Exchange: stringQueryPtr(c, "exchange"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Per-asset performance across accounts
// @Tags positions
// @Param asset path string true "asset symbol"
// @Success 200 {object} apiResponse
// @Router /api/v1/assets/{asset}/performance [get]
func (h *PositionHandler) assetPerformance(c *gin.Context) {
	if h.Perf == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	out, err := h.Perf.AssetPerformance(c.Request.Context(), c.Param("asset"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}
