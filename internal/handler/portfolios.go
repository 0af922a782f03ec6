package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade/internal/performance"
	"papertrade/internal/repository"
	"papertrade/internal/service"
)

type PortfolioHandler struct {
	Repo     repository.Repository
	Accounts *service.AccountService
	Perf     *performance.Aggregator
	Admin    gin.HandlerFunc
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/portfolios")
	g.GET("", h.list)
	g.GET("/:id/summary", h.summary)
	g.GET("/:id/equity-curve", h.equityCurve)
	if h.Admin != nil {
		g.POST("", h.Admin, h.create)
		g.PUT("/:id/members/:account_id", h.Admin, h.addMember)
		g.DELETE("/:id/members/:account_id", h.Admin, h.removeMember)
	}
}

type portfolioView struct {
	ID          uint64   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	AccountIDs  []uint64 `json:"account_ids"`
}

// @Summary List portfolios
// @Tags portfolios
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios [get]
func (h *PortfolioHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	items, err := h.Repo.ListPortfolios(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]portfolioView, 0, len(items))
	for _, p := range items {
		ids, err := h.Repo.ListPortfolioMembers(ctx, p.ID)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		out = append(out, portfolioView{ID: p.ID, Name: p.Name, Description: p.Description, AccountIDs: ids})
	}
	Ok(c, out, map[string]any{"total": len(out)})
}

// @Summary Portfolio performance summary
// @Tags portfolios
// @Param id path int true "portfolio id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/portfolios/{id}/summary [get]
func (h *PortfolioHandler) summary(c *gin.Context) {
	if h.Perf == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	out, err := h.Perf.PortfolioSummary(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if out == nil {
		Error(c, http.StatusNotFound, "portfolio not found", nil)
		return
	}
	Ok(c, out, nil)
}

// @Summary Portfolio equity curve
// @Tags portfolios
// @Param id path int true "portfolio id"
// @Param since query string false "RFC3339 lower bound"
// @Param until query string false "RFC3339 upper bound"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/equity-curve [get]
func (h *PortfolioHandler) equityCurve(c *gin.Context) {
	if h.Perf == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	p, err := h.Perf.Repo.GetPortfolio(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if p == nil {
		Error(c, http.StatusNotFound, "portfolio not found", nil)
		return
	}
	points, err := h.Perf.PortfolioEquityCurve(c.Request.Context(), id, timeQuery(c, "since"), timeQuery(c, "until"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, points, map[string]any{"total": len(points)})
}

// @Summary Create portfolio
// @Tags admin
// @Security BearerAuth
// @Param body body service.CreatePortfolioInput true "portfolio"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios [post]
func (h *PortfolioHandler) create(c *gin.Context) {
	var in service.CreatePortfolioInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	p, err := h.Accounts.CreatePortfolio(c.Request.Context(), in)
	if err != nil {
		serviceError(c, err)
		return
	}
	Ok(c, portfolioView{ID: p.ID, Name: p.Name, Description: p.Description, AccountIDs: in.AccountIDs}, nil)
}

// @Summary Add an account to a portfolio
// @Tags admin
// @Security BearerAuth
// @Param id path int true "portfolio id"
// @Param account_id path int true "account id"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/members/{account_id} [put]
func (h *PortfolioHandler) addMember(c *gin.Context) {
	h.member(c, h.Accounts.AddMember)
}

// @Summary Remove an account from a portfolio
// @Tags admin
// @Security BearerAuth
// @Param id path int true "portfolio id"
// @Param account_id path int true "account id"
// @Success 200 {object} apiResponse
// @Router /api/v1/portfolios/{id}/members/{account_id} [delete]
func (h *PortfolioHandler) removeMember(c *gin.Context) {
	h.member(c, h.Accounts.RemoveMember)
}

func (h *PortfolioHandler) member(c *gin.Context, op func(ctx context.Context, portfolioID, accountID uint64) error) {
	id := uint64Param(c, "id")
	accountID := uint64Param(c, "account_id")
	if id == 0 || accountID == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	ctx := c.Request.Context()
	if err := op(ctx, id, accountID); err != nil {
		serviceError(c, err)
		return
	}
	if h.Perf != nil {
		h.Perf.InvalidatePortfolio(ctx, id)
	}
	ids, err := h.Repo.ListPortfolioMembers(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"portfolio_id": id, "account_ids": ids}, nil)
}
