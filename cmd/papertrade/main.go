package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"papertrade/internal/auth"
	"papertrade/internal/cache"
	"papertrade/internal/config"
	cronrunner "papertrade/internal/cron"
	"papertrade/internal/db"
	"papertrade/internal/handler"
	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/orchestrator"
	"papertrade/internal/performance"
	"papertrade/internal/report"
	gormrepository "papertrade/internal/repository/gorm"
	"papertrade/internal/service"
	"papertrade/internal/strategy"

	_ "papertrade/docs"
)

func main() {
	var (
		reportOnly  = flag.Bool("report", false, "print the account summary table and exit")
		issueToken  = flag.String("issue-token", "", "print an admin token for this subject and exit")
		migrateOnly = flag.Bool("migrate", false, "apply schema migrations and exit")
	)
	flag.Parse()

	cfgPath := os.Getenv("PT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("PT_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	if *issueToken != "" {
		tok, exp, err := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL}.Issue(*issueToken, auth.RoleAdmin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s\n# expires %s\n", tok, exp.Format(time.RFC3339))
		return
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	applied, err := db.Migrate(context.Background(), dbConn)
	if err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Ints("versions", applied))
	}
	if *migrateOnly {
		return
	}

	store := gormrepository.New(dbConn.Gorm)

	if *reportOnly {
		agg := &performance.Aggregator{Repo: store, Logger: logger}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		ov, err := agg.Overview(ctx)
		if err != nil {
			logger.Fatal("report failed", zap.Error(err))
		}
		if err := report.WriteAccounts(os.Stdout, ov); err != nil {
			logger.Fatal("report failed", zap.Error(err))
		}
		return
	}

	factories := strategy.Builtin()
	registry, err := strategy.NewRegistry(cfg.Strategies, factories)
	if err != nil {
		logger.Fatal("strategy registry failed", zap.Error(err))
	}

	metricsCache, err := cache.New(cfg.MetricsCache, cfg.Redis)
	if err != nil {
		logger.Fatal("metrics cache init failed", zap.Error(err))
	}
	if rs, ok := metricsCache.(*cache.RedisStore); ok {
		defer rs.Close()
	}

	oracle := market.NewOracle(store, cfg.Pricing.StaleAfter, logger.Named("oracle"))
	builder := market.NewBuilder(store, market.BuilderConfig{
		Exchange:        market.ExchangeHyperliquid,
		CandleLimit:     cfg.Orchestrator.CandleLimit,
		FundingWindow:   cfg.Orchestrator.FundingWindow,
		PredictionLimit: cfg.Orchestrator.PredictionCap,
		StaleAfter:      cfg.Orchestrator.StaleAfter,
		RPS:             cfg.Orchestrator.SnapshotRPS,
	}, logger.Named("snapshot"))

	heartbeat := service.NewHeartbeat()
	accounts := &service.AccountService{Repo: store, Logger: logger.Named("accounts")}
	if cfg.Paper.BootstrapAccounts {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		created, err := accounts.Bootstrap(ctx, cfg)
		cancel()
		if err != nil {
			logger.Fatal("account bootstrap failed", zap.Error(err))
		}
		logger.Info("accounts ready", zap.Int("count", len(created)))
	}

	aggregator := &performance.Aggregator{
		Repo:   store,
		Cache:  metricsCache,
		TTL:    cfg.MetricsCache.TTL,
		Logger: logger.Named("performance"),
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := handler.NewRouter(handler.Deps{
		DB:        dbConn.Gorm,
		Repo:      store,
		Accounts:  accounts,
		Perf:      aggregator,
		Heartbeat: heartbeat,
		Registry:  registry,
		Factories: factories,
		Config:    cfg,
		Logger:    logger.Named("http"),
	})
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Feed.Enabled {
		feed := market.NewHyperliquidFeed(oracle, market.FeedOptions{
			URL:               cfg.Feed.HyperliquidWSURL,
			Assets:            registry.Assets(),
			ReconnectInterval: cfg.Feed.ReconnectInterval,
			Logger:            logger.Named("feed"),
		})
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("price feed stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Orchestrator.Enabled {
		orch := orchestrator.New(builder, registry, store, logger.Named("orchestrator"))
		orch.Assets = cfg.Orchestrator.Assets
		loop := &service.TickLoop{
			Name:      "orchestrator",
			Interval:  cfg.Orchestrator.Interval,
			Logger:    logger,
			Heartbeat: heartbeat,
			Fn: func(ctx context.Context) error {
				_, err := orch.Tick(ctx)
				return err
			},
		}
		go func() {
			if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("orchestrator stopped", zap.Error(err))
			}
		}()
	}

	engines := &service.EngineSet{
		Repo:      store,
		Prices:    oracle,
		Config:    cfg,
		Logger:    logger.Named("engine"),
		Heartbeat: heartbeat,
	}
	enginesDone := make(chan struct{})
	if cfg.Engine.Enabled {
		go func() {
			defer close(enginesDone)
			if err := engines.Run(ctx, 30*time.Second); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("engine set stopped", zap.Error(err))
			}
		}()
	} else {
		close(enginesDone)
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.MTM.Enabled {
		mtm := &service.MarkToMarketService{Repo: store, Prices: oracle, Logger: logger.Named("mtm")}
		var mtmInterval time.Duration
		_, mtmInterval, err = cronRunner.AddTimed("mtm", cfg.MTM.Spec, func(ctx context.Context) {
			n, err := mtm.RunOnce(ctx)
			now := time.Now().UTC()
			if err != nil {
				heartbeat.Failure("mtm", err, now)
				logger.Warn("cron mark-to-market failed", zap.Error(err))
				return
			}
			heartbeat.Success("mtm", now)
			logger.Debug("cron mark-to-market ok", zap.Int("accounts", n))
		})
		if err != nil {
			logger.Fatal("register mtm job failed", zap.String("spec", cfg.MTM.Spec), zap.Error(err))
		}
		heartbeat.Register("mtm", mtmInterval)
	}
	if mem, ok := metricsCache.(*cache.MemoryStore); ok {
		if _, err := cronRunner.Add("@every 5m", func(context.Context) {
			if n := mem.Sweep(); n > 0 {
				logger.Debug("metrics cache swept", zap.Int("expired", n))
			}
		}); err != nil {
			logger.Warn("register cache sweep failed", zap.Error(err))
		}
	}
	if _, err := cronRunner.Add("0 0 0 * * *", func(context.Context) {
		engines.LogRiskDay(time.Now().UTC())
	}); err != nil {
		logger.Warn("register risk day job failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	select {
	case <-enginesDone:
	case <-shutdownCtx.Done():
		logger.Warn("engines did not stop before shutdown deadline")
	}
}
