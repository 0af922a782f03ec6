package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"papertrade/internal/auth"
	"papertrade/internal/config"
	"papertrade/internal/metrics"
	"papertrade/internal/performance"
	"papertrade/internal/repository"
	"papertrade/internal/service"
	"papertrade/internal/strategy"
)

// Deps is everything the HTTP API reads from.
type Deps struct {
	DB        *gorm.DB
	Repo      repository.Repository
	Accounts  *service.AccountService
	Perf      *performance.Aggregator
	Heartbeat *service.Heartbeat
	Registry  *strategy.Registry
	Factories map[string]strategy.Factory
	Config    config.Config
	Logger    *zap.Logger
}

// NewRouter mounts the API on a fresh gin engine. Admin routes are mounted
// unless auth is neither disabled nor configured with a secret.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(CORS())
	r.Use(metrics.GinMiddleware())
	r.Use(AccessLog(d.Logger))

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	var admin gin.HandlerFunc
	if d.Config.Auth.Disabled || d.Config.Auth.JWTSecret != "" {
		j := auth.JWT{Secret: []byte(d.Config.Auth.JWTSecret), TokenTTL: d.Config.Auth.TokenTTL}
		admin = auth.RequireRole(j, auth.RoleAdmin, d.Config.Auth.Disabled)
	} else if d.Logger != nil {
		d.Logger.Info("admin api disabled: auth.jwt_secret not set")
	}

	(&HealthHandler{DB: d.DB, Heartbeat: d.Heartbeat}).Register(r)
	(&SummaryHandler{Perf: d.Perf}).Register(r)
	(&AccountHandler{Repo: d.Repo, Accounts: d.Accounts, Perf: d.Perf, Admin: admin}).Register(r)
	(&PortfolioHandler{Repo: d.Repo, Accounts: d.Accounts, Perf: d.Perf, Admin: admin}).Register(r)
	(&PositionHandler{Repo: d.Repo, Perf: d.Perf}).Register(r)
	(&SignalHandler{Repo: d.Repo}).Register(r)
	(&StrategyHandler{Registry: d.Registry, Factories: d.Factories, Config: d.Config.Strategies}).Register(r)
	return r
}
