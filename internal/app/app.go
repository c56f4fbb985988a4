package app

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/module/auth"
	"github.com/themeforge/server/internal/module/billing"
	"github.com/themeforge/server/internal/module/payment"
	"github.com/themeforge/server/internal/module/subscription"
	"github.com/themeforge/server/internal/module/usage"
	"github.com/themeforge/server/internal/shared/cache"
	"github.com/themeforge/server/internal/shared/config"
	"github.com/themeforge/server/internal/shared/database"
	"github.com/themeforge/server/internal/shared/logger"
	"github.com/themeforge/server/internal/utils/metrics"
	"github.com/themeforge/server/internal/utils/middleware"
)

// App wires the modules together and owns the HTTP router.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Redis is optional; abuse flagging and usage mirrors degrade without it.
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb, err = cache.NewRedis(&cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", zap.Error(err))
			rdb = nil
		}
	}

	app := &App{
		config:  cfg,
		db:      db,
		redis:   rdb,
		logger:  log,
		metrics: metrics.New("themeforge"),
	}
	app.router = app.buildRouter()
	return app, nil
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the application's resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *App) buildRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := a.config
	log := a.logger

	// Accounts.
	accountRepo := account.NewRepository(a.db)
	accountService := account.NewService(accountRepo, cfg.Billing.FreeCredits, cfg.Auth.AdminEmails, log)
	accountHandler := account.NewHandler(accountService, log)

	// Ledger and admission.
	billingRepo := billing.NewRepository(a.db)
	guard := billing.NewGuard(billingRepo, log)
	ledger := billing.NewService(billingRepo, guard, log)
	abuse := billing.NewAbuseMonitor(a.redis, billingRepo, cfg.Billing.AbuseRateLimit, cfg.Billing.AbuseRateWindow, log)

	// Usage aggregation.
	usageRepo := usage.NewRepository(a.db)
	recorder := usage.NewRecorder(usageRepo, a.redis, usage.CalendarMonth, log)
	usageHandler := usage.NewHandler(recorder, log)

	billingHandler := billing.NewHandler(ledger, recorder, abuse, a.metrics, log)

	// Subscription state.
	subRepo := subscription.NewRepository(a.db)
	subService := subscription.NewService(subRepo, guard, subscription.NewStateMachine(), log)

	// Payment providers.
	registry := provideProviderRegistry(cfg, a.metrics, log)

	paymentRepo := payment.NewRepository(a.db)
	paymentService := payment.NewService(
		paymentRepo, registry, ledger, subService, accountService,
		cfg.Payment.CreditPacks, cfg.Payment.ProPriceID, cfg.Server.BaseURL, log,
	)
	paymentHandler := payment.NewHandler(paymentService, a.metrics, log)
	webhookHandler := payment.NewWebhookHandler(paymentService, registry, a.metrics, log)

	// Auth.
	jwtManager := provideJWTManager(cfg)
	authHandler := auth.NewHandler(accountService, jwtManager, log)

	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Stripe-Signature"},
		AllowCredentials: false,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	// Public surface: token exchange, provider webhooks, browser returns.
	authHandler.RegisterRoutes(api)
	webhookHandler.RegisterRoutes(api.Group("/webhooks"))
	paymentHandler.RegisterCallbackRoutes(api)

	authed := api.Group("", middleware.RequireAuth(jwtManager))
	accountHandler.RegisterRoutes(authed)
	billingHandler.RegisterRoutes(authed)
	usageHandler.RegisterRoutes(authed)
	paymentHandler.RegisterRoutes(authed)

	admin := authed.Group("/admin", middleware.RequireAdmin(accountService))
	usageHandler.RegisterAdminRoutes(admin)

	return r
}

// migrate keeps the schema in step with the models.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&account.Account{},
		&billing.ProcessedTransaction{},
		&subscription.SubscriptionEvent{},
		&usage.UsageRecord{},
		&payment.PurchaseOrder{},
	)
}
