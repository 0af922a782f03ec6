package handler

import (
	"encoding/json"
	"sort"

	"github.com/gin-gonic/gin"

	"papertrade/internal/config"
	"papertrade/internal/strategy"
)

type StrategyHandler struct {
	Registry  *strategy.Registry
	Factories map[string]strategy.Factory
	Config    map[string]config.StrategyConfig
}

func (h *StrategyHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/strategies", h.list)
}

type strategyView struct {
	Name      string         `json:"name"`
	Enabled   bool           `json:"enabled"`
	Assets    []string       `json:"assets"`
	Exchanges []string       `json:"exchanges"`
	Interval  string         `json:"interval"`
	Params    map[string]any `json:"params"`
}

// @Summary Configured strategies
// @Tags strategies
// @Success 200 {object} apiResponse
// @Router /api/v1/strategies [get]
func (h *StrategyHandler) list(c *gin.Context) {
	names := make([]string, 0, len(h.Config))
	for name := range h.Config {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]strategyView, 0, len(names))
	for _, name := range names {
		sc := h.Config[name]
		v := strategyView{
			Name:      name,
			Assets:    sc.Assets,
			Exchanges: sc.Exchanges,
			Interval:  sc.Interval,
			Params:    map[string]any{},
		}
		if e, ok := h.Registry.Get(name); ok {
			v.Enabled = true
			v.Assets = e.Assets
			v.Exchanges = e.Exchanges
		}
		if f, ok := h.Factories[name]; ok {
			_ = json.Unmarshal(f().DefaultParams(), &v.Params)
		}
		for k, p := range sc.Params {
			v.Params[k] = p
		}
		out = append(out, v)
	}
	Ok(c, out, map[string]any{"total": len(out)})
}
