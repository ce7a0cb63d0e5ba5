package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/glucose-stats/internal/ingest"
	"github.com/smukkama/glucose-stats/internal/queue"
	"github.com/smukkama/glucose-stats/internal/store"
	"github.com/smukkama/glucose-stats/internal/tracker"
	"github.com/smukkama/glucose-stats/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Stats Processor...")

	// Every new subject gets a state built from these options
	if _, err := tracker.NewState(cfg.Tracker.Options(), time.Now()); err != nil {
		log.Fatalf("Invalid tracker options: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	states := store.NewStateStore(redisClient, cfg.Redis.StateTTL)

	statsProducer := queue.NewProducer(cfg.Kafka, cfg.Kafka.TopicStats)
	defer statsProducer.Close()
	fmt.Println("Stats update producer initialized")

	consumer := queue.NewConsumer(cfg.Kafka, cfg.Kafka.ProcessorGroup)
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	processor := ingest.NewProcessor(states, statsProducer, cfg.Tracker.Options())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Processor stopped: %v", err)
		}
	}()

	fmt.Println("\n✓ Stats Processor is running")
	fmt.Printf("✓ Windows: %v (default %s), category mode: %s\n",
		cfg.Tracker.WindowDays, cfg.Tracker.DefaultWindow, cfg.Tracker.CategoryMode)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done
	fmt.Println("Stats Processor stopped")
}
