// Package app wires configuration, storage, the pricing engine, and the HTTP
// server into a running service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/commercefull/platform-sub011/internal/api"
	"github.com/commercefull/platform-sub011/internal/domain/coupon"
	"github.com/commercefull/platform-sub011/internal/domain/pricing"
	"github.com/commercefull/platform-sub011/internal/domain/promotion"
	"github.com/commercefull/platform-sub011/internal/domain/usage"
	"github.com/commercefull/platform-sub011/internal/storage/postgres"
	"github.com/commercefull/platform-sub011/pkg/health"
	"github.com/commercefull/platform-sub011/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	promotionRepo := postgres.NewPromotionRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	priceCatalog := postgres.NewPriceCatalog(pool)
	usageStore := postgres.NewUsageStore(pool)

	// Domain services.
	ledger := usage.NewLedger(usageStore, cfg.Engine.ReservationTTL)
	engine := pricing.NewEngine(
		promotion.NewResolver(promotionRepo),
		promotionRepo,
		coupon.NewValidator(couponRepo, ledger),
		priceCatalog,
		ledger,
		pricing.Policy{CouponsFirst: cfg.Engine.CouponsFirst},
	)

	// Expired reservations are returned to the pool in the background so an
	// abandoned cart cannot hold a usage slot forever.
	go runReaper(ctx, lg, ledger, cfg.Engine.ReaperInterval)

	// Mux: health endpoints + pricing API on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	api.NewHandler(engine).Routes(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(
		"POST /api/price",
		"POST /api/coupons/validate",
		"GET /livez",
		"GET /readyz",
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("pricing-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func runReaper(ctx context.Context, lg *zap.Logger, ledger *usage.Ledger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := ledger.ReapExpired(ctx)
			if err != nil {
				lg.Warn("Reaping expired reservations failed", zap.Error(err))
				continue
			}
			if released > 0 {
				lg.Info("Released expired usage reservations", zap.Int("count", released))
			}
		}
	}
}
