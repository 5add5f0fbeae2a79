/**
 * Docscan Worker - Main Entry Point
 *
 * Go worker for document scans: crop, transcode, OCR, title, history.
 *
 * Architecture:
 * - Redis list consumer (default) or Asynq consumer for "scan:process" jobs
 * - Scan pipeline: crop geometry -> JPEG transcode -> OCR chain -> result
 * - OCR chain: primary LLM vision (30s) -> OCR.space -> optional Tesseract
 * - PostgreSQL scan/PDF history, optional Qdrant semantic index (VoyageAI)
 * - Health server (gorilla/mux) and temp-dir sweeper (cron)
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/docscan-worker/internal/app"
	"github.com/adverant/nexus/docscan-worker/internal/config"
	"github.com/adverant/nexus/docscan-worker/internal/health"
	"github.com/adverant/nexus/docscan-worker/internal/queue"
	"github.com/adverant/nexus/docscan-worker/internal/sweep"
	"github.com/adverant/nexus/docscan-worker/internal/transcode"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.docscan"); err != nil {
		log.Printf("Warning: .env.docscan not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Docscan Worker starting...")
	log.Printf("Configuration loaded: %s", cfg.Redacted())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	services, err := app.Build(ctx, cfg, true)
	cancel()
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	if services.History == nil {
		log.Printf("WARNING: DATABASE_URL not set. Scans and job status will not be stored.")
	} else if services.History.SemanticEnabled() {
		log.Printf("History store initialized (PostgreSQL + Qdrant)")
	} else {
		log.Printf("History store initialized (PostgreSQL)")
	}

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue (%s transport)...", cfg.QueueTransport)
	worker, err := newWorker(cfg, services)
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := worker.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	// Temp dir sweeper
	sweeper, err := sweep.NewScheduler(cfg.TempSweepSchedule, sweep.NewSweeper(cfg.TempDir, transcode.TempFilePrefix, cfg.TempMaxAge()))
	if err != nil {
		log.Fatalf("Failed to schedule temp sweep: %v", err)
	}
	sweeper.Start()

	// Health server
	opts := health.Options{
		Checks: services.Checks(),
		Stats:  worker.Stats,
	}
	if services.History != nil {
		opts.Jobs = services.History.GetJob
	}
	healthServer := health.NewServer(cfg.HealthAddr, opts)
	healthServer.Start()

	log.Printf("===========================================")
	log.Printf("Docscan Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s (%s)", cfg.QueueName, cfg.QueueTransport)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("OCR: primary (%v) -> fallback (%v)", cfg.PrimaryTimeout(), fallbackLabel(cfg))
	log.Printf("Health: %s", cfg.HealthAddr)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping health server: %v", err)
	}

	// Stop queue consumer; in-flight jobs get a grace period, then are re-queued
	if err := worker.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	sweeper.Stop()

	log.Printf("Closing storage...")
	if err := services.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Printf("Shutdown complete")
}

func newWorker(cfg *config.Config, services *app.App) (queue.Worker, error) {
	if cfg.QueueTransport == config.TransportAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Processor:   services.Processor,
		})
	}
	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		Processor:   services.Processor,
	})
}

func fallbackLabel(cfg *config.Config) string {
	if cfg.FallbackTimeout() == 0 {
		return "unbounded"
	}
	return cfg.FallbackTimeout().String()
}
