package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade/internal/repository"
)

type SignalHandler struct {
	Repo repository.Repository
}

func (h *SignalHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/signals", h.list)
}

// @Summary List signals, newest first
// @Tags signals
// @Param strategy query string false "strategy"
// @Param asset query string false "asset"
// @Param exchange query string false "exchange"
// @Param acted_on query bool false "claimed or pass"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/signals [get]
func (h *SignalHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := intQuery(c, "offset", 0)
	params := repository.ListSignalsParams{
		Limit:    limit,
		Offset:   offset,
		Strategy: stringQueryPtr(c, "strategy"),
		Asset:    stringQueryPtr(c, "asset"),
		Exchange: stringQueryPtr(c, "exchange"),
		Since:    timeQuery(c, "since"),
		Asc:      boolPtr(false),
	}
	switch c.Query("acted_on") {
	case "true", "1":
		params.ActedOn = boolPtr(true)
	case "false", "0":
		params.ActedOn = boolPtr(false)
	}
	items, err := h.Repo.ListSignals(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}
