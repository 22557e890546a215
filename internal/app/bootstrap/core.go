package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/cache"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/gateway"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

// Core is the state shared by the API, the worker and the admin CLI: config,
// stores, gateways and the settlement service. It opens no listeners.
type Core struct {
	Config   Config
	Logger   *slog.Logger
	DB       *gorm.DB
	Repos    postgres.Repositories
	Gateways *gateway.Selector
	Service  *application.Service
	// Migrations lists schema files applied during this boot.
	Migrations []string

	closers []func()
}

func NewCore(ctx context.Context, configPath string) (*Core, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	core := &Core{Config: cfg, Logger: logger}

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	core.closers = append(core.closers, func() { _ = sqlDB.Close() })
	core.DB = db

	applied, err := postgres.RunMigrations(ctx, db)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	core.Migrations = applied

	var (
		settingsCache ports.SettingsCache
		locker        ports.Locker
	)
	if cfg.RedisURL != "" {
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			core.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		core.closers = append(core.closers, func() { _ = redisClient.Close() })
		settingsCache = cacheadapter.NewRedisSettingsCache(redisClient)
		locker = cacheadapter.NewRedisLocker(redisClient)
	} else {
		logger.Warn("REDIS_URL not set; using process-local settings cache and sweep locks")
		memory := cacheadapter.NewMemoryCache()
		settingsCache = memory
		locker = memory
	}

	selector, err := BuildSelector(cfg)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build gateway selector: %w", err)
	}
	core.Gateways = selector

	core.Repos = postgres.NewRepositories(db)
	core.Service = application.NewService(application.Dependencies{
		Config:         serviceConfig(cfg),
		Logger:         logger,
		Campaigns:      core.Repos.Campaigns,
		Milestones:     core.Repos.Milestones,
		Transactions:   core.Repos.Transactions,
		Settlement:     core.Repos.Settlement,
		Payouts:        core.Repos.Payouts,
		Withdrawals:    core.Repos.Withdrawals,
		BankAccounts:   core.Repos.BankAccounts,
		PaymentMethods: core.Repos.PaymentMethods,
		Settings:       core.Repos.Settings,
		Webhooks:       core.Repos.Webhooks,
		Outbox:         core.Repos.Outbox,
		Idempotency:    core.Repos.Idempotency,
		EventDedup:     core.Repos.EventDedup,
		Gateways:       selector,
		SettingsCache:  settingsCache,
		Locker:         locker,
	})
	return core, nil
}

// Close releases connections in reverse order of acquisition.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// BuildSelector registers the enabled gateways and validates every route against them.
func BuildSelector(cfg Config) (*gateway.Selector, error) {
	var gateways []ports.Gateway
	if cfg.Card.Enabled {
		gateways = append(gateways, gateway.NewCardGateway(adapterConfig(cfg.Card)))
	}
	if cfg.OpenBanking.Enabled {
		gateways = append(gateways, gateway.NewOpenBankingGateway(adapterConfig(cfg.OpenBanking)))
	}
	if cfg.LocalBank.Enabled {
		gateways = append(gateways, gateway.NewLocalBankGateway(adapterConfig(cfg.LocalBank)))
	}
	routes := make([]gateway.Route, 0, len(cfg.Routes))
	for _, route := range cfg.Routes {
		routes = append(routes, gateway.Route{
			Currency: route.Currency,
			Charge:   gatewayNames(route.Charge),
			Payout:   gatewayNames(route.Payout),
		})
	}
	return gateway.NewSelector(gateways, routes)
}

func adapterConfig(g GatewayConfig) gateway.Config {
	return gateway.Config{
		BaseURL:       g.BaseURL,
		APIKey:        g.APIKey,
		WebhookSecret: g.WebhookSecret,
		Timeout:       g.Timeout,
	}
}

func gatewayNames(names []string) []domain.GatewayName {
	out := make([]domain.GatewayName, 0, len(names))
	for _, name := range names {
		out = append(out, domain.GatewayName(name))
	}
	return out
}

func serviceConfig(cfg Config) application.Config {
	return application.Config{
		ServiceName:        cfg.ServiceID,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		EventDedupTTL:      cfg.EventDedupTTL,
		SplitRemainder:     domain.SplitRemainder(cfg.SplitRemainder),
		DefaultDueInterval: cfg.DefaultDueInterval,
		InfluencerFeePct:   cfg.InfluencerFeePct,
		BrandFeePct:        cfg.BrandFeePct,
		AutoChargeEnabled:  cfg.AutoChargeEnabled,
		MaxChargeAttempts:  cfg.MaxChargeAttempts,
		PayoutAutoRelease:  cfg.PayoutAutoRelease,
		SettingsCacheTTL:   cfg.SettingsCacheTTL,
		GatewayRetry: application.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
		InFlightStaleAfter:   cfg.InFlightStaleAfter,
		WithdrawalStuckAfter: cfg.WithdrawalStuckAfter,
		WebhookReplayAfter:   cfg.WebhookReplayAfter,
		SweepBatchSize:       cfg.SweepBatchSize,
		SweepConcurrency:     cfg.SweepConcurrency,
		SweepLockTTL:         2 * cfg.InFlightStaleAfter,
	}
}
