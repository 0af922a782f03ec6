package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"papertrade/internal/performance"
	"papertrade/internal/repository"
	"papertrade/internal/service"
)

type AccountHandler struct {
	Repo     repository.Repository
	Accounts *service.AccountService
	Perf     *performance.Aggregator
	// Admin guards the write routes. They are not mounted when nil.
	Admin gin.HandlerFunc
}

func (h *AccountHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/accounts")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/summary", h.summary)
	g.GET("/:id/equity-curve", h.equityCurve)
	g.GET("/:id/positions", h.positions)
	if h.Admin != nil {
		g.POST("", h.Admin, h.create)
		g.PATCH("/:id", h.Admin, h.update)
	}
}

// @Summary List accounts
// @Tags accounts
// @Param active query bool false "filter by active flag"
// @Param exchange query string false "exchange"
// @Param strategy query string false "strategy"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts [get]
func (h *AccountHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListAccountsParams{
		Exchange: stringQueryPtr(c, "exchange"),
		Strategy: stringQueryPtr(c, "strategy"),
	}
	switch strings.ToLower(strings.TrimSpace(c.Query("active"))) {
	case "true", "1":
		params.Active = boolPtr(true)
	case "false", "0":
		params.Active = boolPtr(false)
	}
	items, err := h.Repo.ListAccounts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Get account
// @Tags accounts
// @Param id path int true "account id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/accounts/{id} [get]
func (h *AccountHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetAccount(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "account not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Account performance summary
// @Tags accounts
// @Param id path int true "account id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/accounts/{id}/summary [get]
func (h *AccountHandler) summary(c *gin.Context) {
	if h.Perf == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	out, err := h.Perf.AccountSummary(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if out == nil {
		Error(c, http.StatusNotFound, "account not found", nil)
		return
	}
	Ok(c, out, nil)
}

// @Summary Account equity curve
// @Tags accounts
// @Param id path int true "account id"
// @Param since query string false "RFC3339 lower bound"
// @Param until query string false "RFC3339 upper bound"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/accounts/{id}/equity-curve [get]
func (h *AccountHandler) equityCurve(c *gin.Context) {
	if h.Perf == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	acct, err := h.Perf.Repo.GetAccount(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if acct == nil {
		Error(c, http.StatusNotFound, "account not found", nil)
		return
	}
	points, err := h.Perf.AccountEquityCurve(c.Request.Context(), id, timeQuery(c, "since"), timeQuery(c, "until"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, points, map[string]any{"total": len(points)})
}

// @Summary Account positions
// @Tags accounts
// @Param id path int true "account id"
// @Param status query string false "OPEN|CLOSED"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id}/positions [get]
func (h *AccountHandler) positions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	var status *string
	if v := strings.ToUpper(strings.TrimSpace(c.Query("status"))); v != "" {
		if v != "OPEN" && v != "CLOSED" {
			Error(c, http.StatusBadRequest, "status must be OPEN or CLOSED", nil)
			return
		}
		status = &v
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), repository.ListPositionsParams{
		AccountIDs: []uint64{id},
		Status:     status,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

// @Summary Create account
// @Tags admin
// @Security BearerAuth
// @Param body body service.CreateAccountInput true "account"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts [post]
func (h *AccountHandler) create(c *gin.Context) {
	var in service.CreateAccountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	acct, err := h.Accounts.CreateAccount(c.Request.Context(), in)
	if err != nil {
		serviceError(c, err)
		return
	}
	Ok(c, acct, nil)
}

// @Summary Rename or (de)activate an account
// @Tags admin
// @Security BearerAuth
// @Param id path int true "account id"
// @Param body body service.UpdateAccountInput true "fields to change"
// @Success 200 {object} apiResponse
// @Router /api/v1/accounts/{id} [patch]
func (h *AccountHandler) update(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var in service.UpdateAccountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	acct, err := h.Accounts.UpdateAccount(c.Request.Context(), id, in)
	if err != nil {
		serviceError(c, err)
		return
	}
	Ok(c, acct, nil)
}
