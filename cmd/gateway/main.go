package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/glucose-stats/internal/connection"
	"github.com/smukkama/glucose-stats/internal/queue"
	"github.com/smukkama/glucose-stats/internal/server"
	"github.com/smukkama/glucose-stats/internal/timer"
	"github.com/smukkama/glucose-stats/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Meter Gateway...")

	// Create Kafka topics
	if err := queue.EnsureTopics(cfg.Kafka); err != nil {
		log.Printf("Topic creation failed: %v", err)
	}

	producer := queue.NewProducer(cfg.Kafka, cfg.Kafka.TopicMeasurements)
	defer producer.Close()
	fmt.Println("Kafka producer initialized")

	connManager := connection.NewManager(cfg.TCPServer.MaxConnections)
	fmt.Println("Connection manager initialized")

	scheduler := timer.NewScheduler(10) // 10 worker goroutines
	scheduler.Start()
	defer scheduler.Stop()
	fmt.Println("Scheduler started")

	gateway := server.NewGateway(&cfg.TCPServer, connManager, scheduler, producer)
	if err := gateway.Start(); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	defer gateway.Stop()

	// Print statistics periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := connManager.Stats()
			schedStats := scheduler.Stats()
			fmt.Printf("\n--- Gateway Statistics ---\n")
			fmt.Printf("Active Connections: %d / %d\n", stats.TotalConnections, stats.MaxConnections)
			fmt.Printf("Unique Subjects: %d\n", stats.UniqueSubjects)
			fmt.Printf("Readings Received: %d\n", stats.Readings)
			fmt.Printf("Scheduled Timers: %d (executed %d)\n", schedStats.ScheduledTasks, schedStats.Executed)
			fmt.Printf("--------------------------\n\n")
		}
	}()

	fmt.Println("\n✓ Meter Gateway is running")
	fmt.Printf("✓ Listening on port %d\n", cfg.TCPServer.Port)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
