package app

import (
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/module/auth"
	"github.com/themeforge/server/internal/module/billing"
	"github.com/themeforge/server/internal/module/payment"
	paymentprovider "github.com/themeforge/server/internal/module/payment/provider"
	"github.com/themeforge/server/internal/module/subscription"
	"github.com/themeforge/server/internal/module/usage"
	"github.com/themeforge/server/internal/shared/cache"
	"github.com/themeforge/server/internal/shared/config"
	"github.com/themeforge/server/internal/shared/database"
	"github.com/themeforge/server/internal/shared/logger"
	"github.com/themeforge/server/internal/utils/metrics"
	"github.com/themeforge/server/internal/utils/middleware"
)

// AppSet is the wire provider set for the whole application graph.
var AppSet = wire.NewSet(
	provideLogger,
	provideDB,
	provideRedis,
	provideMetrics,

	account.NewRepository,
	provideAccountService,
	account.NewHandler,

	billing.NewRepository,
	billing.NewGuard,
	billing.NewService,
	provideAbuseMonitor,
	billing.NewHandler,

	usage.NewRepository,
	provideRecorder,
	usage.NewHandler,

	subscription.NewRepository,
	subscription.NewStateMachine,
	subscription.NewService,

	payment.NewRepository,
	provideProviderRegistry,
	providePaymentService,
	payment.NewHandler,
	payment.NewWebhookHandler,

	provideJWTManager,
	auth.NewHandler,

	wire.Bind(new(billing.UsageRecorder), new(*usage.Recorder)),
	wire.Bind(new(payment.AccountGetter), new(*account.Service)),
	wire.Bind(new(auth.Provisioner), new(*account.Service)),
	wire.Bind(new(middleware.TokenVerifier), new(*auth.JWTManager)),
	wire.Bind(new(middleware.RoleChecker), new(*account.Service)),
)

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(&cfg.Log)
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	return database.New(&cfg.Database)
}

func provideRedis(cfg *config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	rdb, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return rdb
}

func provideMetrics() *metrics.Metrics {
	return metrics.New("themeforge")
}

func provideAccountService(repo account.Repository, cfg *config.Config, log *zap.Logger) *account.Service {
	return account.NewService(repo, cfg.Billing.FreeCredits, cfg.Auth.AdminEmails, log)
}

func provideAbuseMonitor(rdb *redis.Client, repo billing.Repository, cfg *config.Config, log *zap.Logger) *billing.AbuseMonitor {
	return billing.NewAbuseMonitor(rdb, repo, cfg.Billing.AbuseRateLimit, cfg.Billing.AbuseRateWindow, log)
}

func provideRecorder(repo usage.Repository, rdb *redis.Client, log *zap.Logger) *usage.Recorder {
	return usage.NewRecorder(repo, rdb, usage.CalendarMonth, log)
}

// provideProviderRegistry registers every provider the config carries
// credentials for.
func provideProviderRegistry(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *payment.ProviderRegistry {
	registry := payment.NewProviderRegistry()

	if cfg.Payment.Stripe.APIKey != "" {
		stripe := paymentprovider.NewStripeProvider(&paymentprovider.StripeConfig{
			APIKey:        cfg.Payment.Stripe.APIKey,
			WebhookSecret: cfg.Payment.Stripe.WebhookSecret,
		})
		registry.Register(paymentprovider.WithBreaker(stripe, m))
	}

	if cfg.Payment.PayPal.ClientID != "" {
		paypal, err := paymentprovider.NewPayPalProvider(&paymentprovider.PayPalConfig{
			ClientID: cfg.Payment.PayPal.ClientID,
			Secret:   cfg.Payment.PayPal.Secret,
			IsProd:   cfg.Payment.PayPal.IsProd,
		})
		if err != nil {
			log.Warn("paypal provider unavailable", zap.Error(err))
		} else {
			registry.Register(paymentprovider.WithBreaker(paypal, m))
		}
	}

	return registry
}

func providePaymentService(
	repo payment.Repository,
	registry *payment.ProviderRegistry,
	ledger *billing.Service,
	subs *subscription.Service,
	accounts payment.AccountGetter,
	cfg *config.Config,
	log *zap.Logger,
) *payment.Service {
	return payment.NewService(
		repo, registry, ledger, subs, accounts,
		cfg.Payment.CreditPacks, cfg.Payment.ProPriceID, cfg.Server.BaseURL, log,
	)
}

func provideJWTManager(cfg *config.Config) *auth.JWTManager {
	return auth.NewJWTManager(&auth.Config{
		Secret:      cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		Issuer:      cfg.Auth.Issuer,
	})
}
