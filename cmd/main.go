package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/vaxmatch/internal/config"
	"github.com/kkkkikiki/vaxmatch/internal/database"
	"github.com/kkkkikiki/vaxmatch/internal/flags"
	"github.com/kkkkikiki/vaxmatch/internal/logging"
	"github.com/kkkkikiki/vaxmatch/internal/notify"
	"github.com/kkkkikiki/vaxmatch/internal/repository"
	"github.com/kkkkikiki/vaxmatch/internal/rpc"
	"github.com/kkkkikiki/vaxmatch/internal/service"
	"github.com/kkkkikiki/vaxmatch/internal/tracing"
	"github.com/kkkkikiki/vaxmatch/internal/worker"
)

const (
	serviceName    = "vaxmatch"
	serviceVersion = "1.0.0"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App)
	logger.Info().Str("environment", cfg.App.Environment).Msg("Starting vaxmatch service")

	policy, err := config.LoadPolicy(cfg.App.PolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load policy")
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Init(serviceName, serviceVersion, cfg.Tracing.OutputFile); err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			if err := tracing.Shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Error shutting down tracing")
			}
		}()
	}

	// Initialize storage
	store, db, rdb, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer func() {
		if db != nil {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing database connections")
			}
		} else if rdb != nil {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing Redis connection")
			}
		}
	}()

	// Collaborators: Redis when configured, otherwise static flags and log-only notifications
	var (
		flagSource service.FlagSource = flags.Static{AlgoV3: cfg.App.AlgoV3, RankingV2: cfg.App.RankingV2}
		notifier   service.Notifier   = notify.NewLog(logger)
	)
	if rdb != nil {
		flagSource = flags.NewRedis(rdb, cfg.Redis.FlagPrefix)
		notifier = notify.NewRedis(rdb, cfg.Redis.NotifyChannel)
	}

	projector := service.NewProjector(store, policy.Projection)
	campaignService := service.NewCampaignService(store, flagSource, notifier, projector, policy, logger)
	matchService := service.NewMatchService(store, cfg.Matching.MatchTTL, logger)
	coordinator := service.NewCoordinator(store, logger)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workerLog := logging.Component(logger, "Workers")
	var workers sync.WaitGroup
	runWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				workerLog.Error().Err(err).Str("worker", name).Msg("worker stopped")
			}
		}()
	}
	runWorker("projection", worker.NewProjectionWorker(cfg.Matching.ProjectionInterval, campaignService, projector, logger).Run)
	runWorker("completion", worker.NewCompletionWorker(cfg.Matching.CompletionInterval, campaignService, logger).Run)

	// HTTP routing
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(hlog.NewHandler(*logging.Component(logger, "HTTP")))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(req).Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))

	path, handler := rpc.NewServer(campaignService, matchService, coordinator, logger).Handler()
	r.Handle(path+"*", handler)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		hostname, _ := os.Hostname()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":%q,"hostname":%q}`, serviceName, hostname)
	})

	r.Get("/health/db", func(w http.ResponseWriter, req *http.Request) {
		if db == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok","store":"memory"}`))
			return
		}
		if err := db.Postgres.PingContext(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","message":"postgres unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","postgres":"connected"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(r, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	stopWorkers()
	workers.Wait()
	campaignService.Wait()

	logger.Info().Msg("Server exited gracefully")
}

// openStore returns the configured store. Redis is connected in both modes
// when an address is set.
func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.Store, *database.DB, *redis.Client, error) {
	if cfg.Database.UseMemory() {
		logger.Warn().Msg("Using in-memory store; data is lost on restart")
		if !cfg.Redis.Enabled() {
			return repository.NewMemoryStore(), nil, nil, nil
		}
		rdb, err := database.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.NewMemoryStore(), nil, rdb, nil
	}

	db, err := database.NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, db.Postgres); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return repository.NewPostgresStore(db.Postgres), db, db.Redis, nil
}
