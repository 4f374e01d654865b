package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bounty-settlement-system/archive"
	"bounty-settlement-system/config"
	"bounty-settlement-system/database"
	"bounty-settlement-system/escrow"
	"bounty-settlement-system/ghclient"
	"bounty-settlement-system/handlers"
	"bounty-settlement-system/logger"
	"bounty-settlement-system/metrics"
	"bounty-settlement-system/middleware"
	"bounty-settlement-system/services"
	"bounty-settlement-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App is every long lived dependency of a running server, wired once at startup.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Ledger    *escrow.EthereumLedger
	Registry  *prometheus.Registry
	Pool      *ants.Pool
	Scheduler *workers.Scheduler
	UserSync  *workers.UserSyncWorker
	HTTP      *fiber.App

	log *logrus.Entry
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, log: logger.NewSublogger("app")}

	var err error
	a.DB, err = database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(a.DB); err != nil {
		a.Close()
		return nil, err
	}

	a.Ledger, err = escrow.NewEthereumLedger(ctx, escrow.EthereumConfig{
		RPCURL:        cfg.Ledger.RPCURL,
		PrivateKey:    cfg.Ledger.PrivateKey,
		ChainID:       cfg.Ledger.ChainID,
		TokenAddress:  cfg.Ledger.TokenAddress,
		EscrowAddress: cfg.Ledger.EscrowAddress,
		Timeout:       cfg.Ledger.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Enabled() {
		archiver, err = archive.NewS3Archiver(ctx, archive.Options{
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	a.Pool, err = workers.NewSettlementPool(cfg.Settlement.Workers)
	if err != nil {
		a.Close()
		return nil, err
	}

	identity := services.NewAuthServiceClient(cfg.Auth.APIBaseURL, cfg.Auth.SecretKey, cfg.Auth.Timeout)
	github := ghclient.NewFactory(cfg.GitHub.Timeout)

	users := services.NewUserService(a.DB)
	bounties := services.NewBountyService(a.DB, users, a.Ledger, cfg.Ledger.TokenSymbol, m)
	settlement := services.NewSettlementService(a.DB, users, a.Ledger, cfg.Ledger.DefaultPayoutAddress, cfg.Ledger.Timeout, m)
	identitySync := services.NewIdentitySyncService(users, cfg.Auth.WebhookSigningSecret)

	a.Scheduler, err = workers.NewScheduler()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Scheduler.Register(workers.NewFundingJob(bounties, cfg.Funding.Interval, cfg.Ledger.Timeout)); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Scheduler.Register(workers.NewStaleSettlementJob(settlement, cfg.Settlement.SweepInterval, cfg.Settlement.StaleAfter)); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.IdentitySync.Interval > 0 {
		a.UserSync = workers.NewUserSyncWorker(identity, identitySync, cfg.IdentitySync.Interval, cfg.IdentitySync.PageSize)
	}

	a.HTTP = fiber.New(fiber.Config{
		AppName:      "bounty-settlement-system",
		BodyLimit:    25 * 1024 * 1024, // GitHub caps deliveries at 25MB
		ErrorHandler: handlers.ErrorHandler(),
	})
	a.HTTP.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.Setup(a.HTTP, handlers.Services{
		Health: &services.HealthService{
			DB:             a.DB,
			Operator:       a.Ledger,
			AuthConfigured: cfg.Auth.SecretKey != "",
		},
		Repositories: services.NewRepositoryService(identity, github),
		Webhooks:     services.NewWebhookService(a.DB, identity, github, cfg.GitHub.CallbackURL, cfg.GitHub.WebhookSecret, m),
		Ingress:      services.NewIngressService(a.DB, settlement, a.Pool, archiver, cfg.GitHub.WebhookSecret, cfg.Settlement.Timeout, m),
		Identity:     identitySync,
		Bounties:     bounties,
		Users:        users,
		Wallet:       services.NewWalletService(a.Ledger, a.Ledger, users, cfg.Ledger.TokenSymbol, cfg.Ledger.Timeout),
		Verifier:     middleware.NewJWKSVerifier(cfg.Auth.JWKSURL, cfg.Auth.SecretKey, cfg.Auth.Timeout),
		Gatherer:     a.Registry,
		MetricsToken: cfg.MetricsToken,
	})

	return a, nil
}

// Run serves HTTP and the background workers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start()
	if a.UserSync != nil {
		a.UserSync.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.HTTP.Listen(":" + a.Config.Port)
	}()

	a.log.WithFields(logrus.Fields{
		"port":     a.Config.Port,
		"operator": a.Ledger.OperatorAddress(),
		"workers":  a.Config.Settlement.Workers,
		"origins":  a.Config.AllowedOrigins,
	}).Info("✅ [APP] server running")

	select {
	case err := <-errCh:
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("🛑 [APP] shutting down")
	if err := a.HTTP.ShutdownWithTimeout(10 * time.Second); err != nil {
		a.log.WithError(err).Warn("⚠️ [APP] http shutdown incomplete")
	}
	return nil
}

// Close releases everything NewApp acquired. In flight settlements are given
// the settlement timeout to finish.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Pool != nil {
		if err := a.Pool.ReleaseTimeout(a.Config.Settlement.Timeout); err != nil {
			a.log.WithError(err).Warn("⚠️ [APP] settlements still running at exit")
		}
	}
	if a.Ledger != nil {
		a.Ledger.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
