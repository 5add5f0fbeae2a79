/**
 * Queue Consumer for the docscan worker
 *
 * Consumes "scan:process" tasks from Redis through Asynq and runs them
 * through the scan processor. Producer enqueues the same tasks.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docscan-worker/internal/processor"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	processor processor.ScanProcessorInterface
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.ScanProcessorInterface
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Create Asynq server for task processing
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	consumer := newConsumer(cfg)
	consumer.server = server
	consumer.inspector = asynq.NewInspector(redisOpt)
	return consumer, nil
}

func newConsumer(cfg *ConsumerConfig) *Consumer {
	mux := asynq.NewServeMux()
	c := &Consumer{
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
	}
	mux.HandleFunc(TaskTypeScan, c.handleScan)
	return c
}

func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start() error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	log.Printf("Stopping queue consumer...")
	c.server.Shutdown()
	log.Printf("Queue consumer stopped")
	return c.inspector.Close()
}

// handleScan processes a scan task
func (c *Consumer) handleScan(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var job ScanJobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Printf("[Job %s] Processing scan: user=%s, bytes=%d, path=%q, url=%q",
		job.JobID, job.UserID, len(job.ImageBytes), job.ImagePath, job.ImageURL)

	if err := c.processor.UpdateJobStatus(ctx, job.JobID, storage.JobStatusProcessing, 0, map[string]interface{}{
		"userId": job.UserID,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", job.JobID, err)
	}

	res, err := c.processor.ProcessScan(ctx, job.ToRequest())
	duration := time.Since(startTime)

	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		willRetry := ShouldRetry(err) && retried < maxRetry

		status := storage.JobStatusFailed
		if willRetry {
			status = storage.JobStatusQueued
		}
		log.Printf("[Job %s] Processing failed after %v (retry=%v): %v", job.JobID, duration, willRetry, err)

		if updateErr := c.processor.UpdateJobStatus(ctx, job.JobID, status, 100, failedMetadata(job.UserID, err, duration)); updateErr != nil {
			log.Printf("[Job %s] Warning: Failed to update status to %s: %v", job.JobID, status, updateErr)
		}

		if !ShouldRetry(err) {
			return fmt.Errorf("scan processing failed: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("scan processing failed: %w", err)
	}

	log.Printf("[Job %s] Processing completed successfully in %v: provider=%s, scanId=%s",
		job.JobID, duration, res.Payload.Provider, res.ScanID)

	if err := c.processor.UpdateJobStatus(ctx, job.JobID, storage.JobStatusCompleted, 100, completedMetadata(job.UserID, res)); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", job.JobID, err)
	}

	if w := task.ResultWriter(); w != nil {
		if data, err := json.Marshal(res); err == nil {
			if _, err := w.Write(data); err != nil {
				log.Printf("[Job %s] Warning: Failed to write task result: %v", job.JobID, err)
			}
		}
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"transport":   "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// Stats adds live queue counters from Redis to GetStatistics.
func (c *Consumer) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := c.GetStatistics()
	if c.inspector == nil {
		return stats, nil
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return stats, nil
		}
		return nil, fmt.Errorf("failed to read queue info: %w", err)
	}

	stats["pending"] = info.Pending
	stats["active"] = info.Active
	stats["retry"] = info.Retry
	stats["archived"] = info.Archived
	stats["completed"] = info.Completed
	stats["processedToday"] = info.Processed
	stats["failedToday"] = info.Failed
	stats["paused"] = info.Paused
	return stats, nil
}

// Producer enqueues scan tasks for the Asynq consumer.
type Producer struct {
	client     *asynq.Client
	queueName  string
	maxRetries int
	timeout    time.Duration
}

// NewProducer creates a producer for queueName on redisURL.
func NewProducer(redisURL, queueName string) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Producer{
		client:     asynq.NewClient(redisOpt),
		queueName:  queueName,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultProcessingTimeout,
	}, nil
}

// NewScanTask builds the Asynq task for job.
func NewScanTask(job *ScanJobPayload) (*asynq.Task, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(TaskTypeScan, payload), nil
}

// Enqueue submits job and returns its task ID. A job ID already in the
// queue is rejected by Asynq.
func (p *Producer) Enqueue(ctx context.Context, job *ScanJobPayload) (string, error) {
	task, err := NewScanTask(job)
	if err != nil {
		return "", err
	}

	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queueName),
		asynq.TaskID(job.JobID),
		asynq.MaxRetry(p.maxRetries),
		asynq.Timeout(p.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	log.Printf("[Job %s] Enqueued on %s", job.JobID, info.Queue)
	return info.ID, nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	return p.client.Close()
}
