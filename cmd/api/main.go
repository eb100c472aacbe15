package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/di"
	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	shutdownTimeout = 10 * time.Second
	drainDelay      = 5 * time.Second
	jobTimeout      = time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	buildInfo := buildInfoFromEnv(cfg, startedAt)

	provider := pfirestore.NewProvider(cfg.Firestore)
	repos, err := di.FirestoreRepositories(provider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, baseLogger, repos, di.WithBuildInfo(buildInfo))
	if err != nil {
		logger.Fatal("failed to initialise container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	svc := container.Services
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Cart, svc.Placement, svc.Orders,
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
	)
	staffHandlers := handlers.NewStaffHandlers(authenticator, svc.Orders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	httpLogger := baseLogger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(httpLogger),
			observability.RecoveryMiddleware(httpLogger),
			auth.Sessions(cfg.Server.SessionHeader),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithStaffRoutes(staffHandlers.Routes),
	)

	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	var jobsWG sync.WaitGroup
	runPeriodic(jobsCtx, &jobsWG, cfg.Inventory.SweepInterval, logger.Named("reservations"), func(ctx context.Context) (int, error) {
		return svc.Inventory.SweepExpired(ctx, cfg.Inventory.SweepBatchSize)
	})
	runPeriodic(jobsCtx, &jobsWG, cfg.Idempotency.CleanupInterval, logger.Named("idempotency"), func(ctx context.Context) (int, error) {
		return container.Repositories.Idempotency.CleanupExpired(ctx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening",
			zap.String("environment", cfg.Environment),
			zap.String("notify_driver", cfg.Notify.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	// Readiness fails first so the load balancer stops routing before connections close.
	container.StartDraining()
	time.Sleep(drainDelay)

	jobsCancel()
	jobsWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runPeriodic runs job on every tick until ctx is cancelled. A non-positive interval disables it.
func runPeriodic(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, logger *zap.Logger, job func(context.Context) (int, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
				removed, err := job(runCtx)
				cancel()
				if err != nil {
					logger.Error("periodic cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("periodic cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
