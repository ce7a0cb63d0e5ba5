package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/glucose-stats/internal/database"
	"github.com/smukkama/glucose-stats/internal/snapshot"
	"github.com/smukkama/glucose-stats/internal/store"
	"github.com/smukkama/glucose-stats/internal/timer"
	"github.com/smukkama/glucose-stats/pkg/config"
)

func main() {
	once := flag.Bool("once", false, "take one snapshot dated today and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Snapshot Service...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	snapshotter := snapshot.NewDailySnapshotter(store.NewStateStore(redisClient, cfg.Redis.StateTTL), db)

	if *once {
		if _, err := snapshotter.Snapshot(ctx, time.Now()); err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		return
	}

	scheduler := timer.NewScheduler(2)
	scheduler.Start()
	defer scheduler.Stop()
	fmt.Println("Scheduler started")

	if err := snapshotter.Schedule(ctx, scheduler, cfg.Snapshot.DailyTime); err != nil {
		log.Fatalf("Failed to schedule daily snapshot: %v", err)
	}

	fmt.Println("\n✓ Snapshot Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
