package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/skridlevsky/repo-activity/internal/aggregate"
	"github.com/skridlevsky/repo-activity/internal/config"
	"github.com/skridlevsky/repo-activity/internal/db"
	"github.com/skridlevsky/repo-activity/internal/github"
	"github.com/skridlevsky/repo-activity/internal/populate"
)

func main() {
	user := flag.String("user", "", "GitHub login or email of the tracked user")
	repo := flag.String("repo", "", "repository name")
	evict := flag.Bool("evict", false, "only remove the stored aggregate")
	list := flag.Bool("list", false, "list stored aggregates and their snapshots for -user")
	flag.Parse()

	if *user == "" || (*repo == "" && !*list) {
		fmt.Fprintln(os.Stderr, "usage: backfill -user <login> -repo <name> [-evict] | -user <login> -list")
		os.Exit(2)
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx := context.Background()

	log.Println("Connecting to database...")
	database, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Running migrations...")
	if err := db.RunMigrations(ctx, database.Pool()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := aggregate.NewStore(database.Pool())
	githubClient := github.NewClient(cfg.GitHubToken, github.WithTimeout(cfg.GitHubFetchTimeout))

	login, err := githubClient.ResolveLogin(ctx, *user)
	if err != nil {
		log.Fatalf("Failed to resolve user %s: %v", *user, err)
	}

	switch {
	case *list:
		snapshots, err := store.Snapshots(ctx, login)
		if err != nil {
			log.Fatalf("Failed to list aggregates: %v", err)
		}
		names := make([]string, 0, len(snapshots))
		for name := range snapshots {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s\t%s\n", name, snapshots[name])
		}
		return

	case *evict:
		if err := store.Evict(ctx, login, *repo); err != nil {
			log.Fatalf("Failed to evict aggregate: %v", err)
		}
		log.Printf("Evicted %s/%s, it will be rebuilt on the next request\n", login, *repo)
		return
	}

	checkRateLimit(ctx, githubClient)

	start := time.Now()
	log.Printf("Building aggregate for %s/%s...\n", login, *repo)
	populator := populate.NewPopulator(githubClient, populate.Config{
		Lookback: cfg.SyncLookback,
		Workers:  cfg.SyncWorkers,
		PageSize: cfg.SyncPageSize,
	})
	agg, err := populator.Populate(ctx, login, *repo)
	if err != nil {
		log.Fatalf("Failed to build aggregate: %v", err)
	}

	userInfo, err := githubClient.GetUser(ctx, login)
	if err != nil {
		slog.Warn("Failed to fetch user info", "user", login, "error", err)
	} else if err := store.SaveUser(ctx, userInfo); err != nil {
		log.Fatalf("Failed to store user info: %v", err)
	}

	if err := store.Upsert(ctx, login, *repo, agg); err != nil {
		log.Fatalf("Failed to store aggregate: %v", err)
	}

	log.Println("\n=== Backfill Complete ===")
	log.Printf("Repository: %s\n", agg.FullName)
	log.Printf("Commits: %d\n", len(agg.Commits))
	log.Printf("Issues: %d\n", len(agg.Issues))
	log.Printf("Pull requests: %d\n", len(agg.PullRequests))
	log.Printf("Snapshot: %s\n", agg.Snapshot)
	log.Printf("Took %s\n", time.Since(start).Round(time.Second))

	checkRateLimit(ctx, githubClient)
}

func checkRateLimit(ctx context.Context, client *github.Client) {
	rateLimit, err := client.GetRateLimit(ctx)
	if err != nil {
		slog.Warn("Failed to check rate limit", "error", err)
		return
	}

	log.Printf("  Rate limit: %d/%d remaining (resets at %s)\n",
		rateLimit.Remaining, rateLimit.Limit, rateLimit.Reset.Format("15:04:05"))

	// a full build can take several hundred requests
	if rateLimit.Remaining < 500 {
		sleepDuration := time.Until(rateLimit.Reset).Round(time.Second)
		if sleepDuration > 0 {
			log.Printf("  Rate limit low, sleeping for %s...\n", sleepDuration)
			time.Sleep(sleepDuration + 5*time.Second)
		}
	}
}
