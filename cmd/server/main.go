package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/api"
	"github.com/skridlevsky/repo-activity/internal/config"
	"github.com/skridlevsky/repo-activity/internal/db"
	"github.com/skridlevsky/repo-activity/internal/github"
	"github.com/skridlevsky/repo-activity/internal/populate"
	"github.com/skridlevsky/repo-activity/internal/syncer"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// database.Close() is called explicitly in the shutdown sequence below

	if err := db.RunMigrations(ctx, database.Pool()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := aggregate.NewStore(database.Pool())
	githubClient := github.NewClient(cfg.GitHubToken, github.WithTimeout(cfg.GitHubFetchTimeout))

	activitySyncer, err := syncer.NewSyncer(githubClient, syncer.Config{
		Lookback:     cfg.SyncLookback,
		PageSize:     cfg.SyncPageSize,
		MaxPages:     cfg.SyncMaxPages,
		Workers:      cfg.SyncWorkers,
		FetchTimeout: cfg.GitHubFetchTimeout,
		NodeID:       cfg.SnowflakeNode,
	})
	if err != nil {
		log.Fatalf("Failed to create syncer: %v", err)
	}

	populator := populate.NewPopulator(githubClient, populate.Config{
		Lookback: cfg.SyncLookback,
		Workers:  cfg.SyncWorkers,
		PageSize: cfg.SyncPageSize,
	})

	routerResult := api.NewRouter(&api.RouterConfig{
		Database:   database,
		Users:      githubClient,
		Aggregates: store,
		Syncer:     activitySyncer,
		Populator:  populator,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      routerResult.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // a first build walks every branch and pull request
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")

	routerResult.RateLimiters.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	slog.Info("Closing database connection...")
	database.Close()

	slog.Info("Server exited")
}

// setupLogger installs the default slog logger: JSON in production, text with
// debug output everywhere else
func setupLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}
