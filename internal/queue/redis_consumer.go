/**
 * Direct Redis Queue Consumer for the docscan worker
 *
 * Plain Redis LIST queue shared with the app backend:
 * - <queue>            LIST of job IDs (LPUSH by producers, BRPOP here)
 * - <queue>:data       HASH jobID -> RedisJobData JSON
 * - <queue>:processing / :completed / :failed   SETs of job IDs
 * - <queue>:results / :errors                   HASHes of outcomes
 * - <queue>:events     pub/sub channel of status events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docscan-worker/internal/processor"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    ScanJobPayload `json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"maxRetries"`
}

// nextAction decides what happens to a job after an attempt.
type nextAction int

const (
	actionComplete nextAction = iota
	actionRequeue
	actionFail
)

func decide(job *RedisJobData, err error) nextAction {
	if err == nil {
		return actionComplete
	}
	if ShouldRetry(err) && job.Attempts < job.MaxRetries {
		return actionRequeue
	}
	return actionFail
}

// queueKeys names the Redis keys of one queue.
type queueKeys struct {
	list, data, processing, completed, failed, results, errors, events string
}

func keysFor(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.ScanProcessorInterface
	config    *RedisConsumerConfig
	keys      queueKeys
	// ctx stops polling. Jobs already taken off the list run on jobCtx,
	// which Stop cancels only once ShutdownTimeout has passed. Queue and
	// status writes use storeCtx so an interrupted job can still be
	// re-queued.
	ctx       context.Context
	cancel    context.CancelFunc
	jobCtx    context.Context
	jobCancel context.CancelFunc
	storeCtx  context.Context
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.ScanProcessorInterface
	// ShutdownTimeout is how long Stop lets in-flight jobs finish before
	// interrupting and re-queueing them.
	ShutdownTimeout time.Duration
}

// DefaultShutdownTimeout bounds how long Stop drains in-flight jobs.
const DefaultShutdownTimeout = 30 * time.Second

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
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

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	client, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	storeCtx := context.WithoutCancel(consumerCtx)
	jobCtx, jobCancel := context.WithCancel(storeCtx)

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      keysFor(cfg.QueueName),
		ctx:       consumerCtx,
		cancel:    cancel,
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
		storeCtx:  storeCtx,
	}, nil
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	log.Printf("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	log.Println("Queue consumer started successfully")
	return nil
}

// Stop stops polling and waits for in-flight jobs. Jobs still running after
// ShutdownTimeout are interrupted and put back on the queue.
func (c *RedisConsumer) Stop() error {
	log.Println("Stopping queue consumer...")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.config.ShutdownTimeout):
		log.Printf("In-flight jobs still running after %v, interrupting", c.config.ShutdownTimeout)
		c.jobCancel()
		<-done
	}
	c.jobCancel()
	return c.client.Close()
}

var errNoJobs = errors.New("no jobs available")

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
					continue
				}
				log.Printf("Worker %d error: %v", id, err)
				// Small delay before trying again
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	raw, err := c.client.HGet(c.storeCtx, c.keys.data, jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(jobID, "", fmt.Errorf("failed to unmarshal job: %w", err), 0)
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if err := job.Payload.Validate(); err != nil {
		c.markFailed(job.ID, job.Payload.UserID, err, 0)
		return err
	}

	c.setStatus(job.ID, storage.JobStatusProcessing, nil)
	if err := c.processor.UpdateJobStatus(c.storeCtx, job.Payload.JobID, storage.JobStatusProcessing, 0, map[string]interface{}{
		"userId":   job.Payload.UserID,
		"attempts": job.Attempts + 1,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", job.Payload.JobID, err)
	}

	log.Printf("[Job %s] Processing scan (attempt %d)", job.Payload.JobID, job.Attempts+1)

	startTime := time.Now()
	res, err := c.processor.ProcessScan(c.jobCtx, job.Payload.ToRequest())
	duration := time.Since(startTime)

	var action nextAction
	switch {
	case err != nil && c.jobCtx.Err() != nil:
		// Interrupted by shutdown; the attempt does not count.
		action = actionRequeue
	case err != nil:
		job.Attempts++
		action = decide(&job, err)
	default:
		action = actionComplete
	}

	switch action {
	case actionComplete:
		c.markCompleted(&job, res)
		log.Printf("[Job %s] Completed in %v", job.Payload.JobID, duration)

	case actionRequeue:
		log.Printf("[Job %s] Failed: %v. Re-queued for retry (attempt %d/%d)",
			job.Payload.JobID, err, job.Attempts, job.MaxRetries)
		if err := c.requeue(&job); err != nil {
			return fmt.Errorf("failed to re-queue job %s: %w", job.ID, err)
		}
		if updateErr := c.processor.UpdateJobStatus(c.storeCtx, job.Payload.JobID, storage.JobStatusQueued, 0, failedMetadata(job.Payload.UserID, err, duration)); updateErr != nil {
			log.Printf("[Job %s] Warning: Failed to update status to queued: %v", job.Payload.JobID, updateErr)
		}
		c.publish(newStatusEvent(job.ID, storage.JobStatusQueued, map[string]interface{}{"attempts": job.Attempts}))

	case actionFail:
		log.Printf("[Job %s] Failed permanently after %d attempt(s): %v", job.Payload.JobID, job.Attempts, err)
		c.markFailed(job.ID, job.Payload.UserID, err, duration)
	}

	return nil
}

// requeue stores the updated attempt count and pushes the job back onto the
// list in one transaction.
func (c *RedisConsumer) requeue(job *RedisJobData) error {
	updated, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(c.storeCtx, func(pipe redis.Pipeliner) error {
		pipe.HSet(c.storeCtx, c.keys.data, job.ID, updated)
		pipe.SRem(c.storeCtx, c.keys.processing, job.ID)
		pipe.LPush(c.storeCtx, c.keys.list, job.ID)
		return nil
	})
	return err
}

func (c *RedisConsumer) markCompleted(job *RedisJobData, res *processor.ScanResult) {
	meta := completedMetadata(job.Payload.UserID, res)
	c.setStatus(job.ID, storage.JobStatusCompleted, res)
	if err := c.processor.UpdateJobStatus(c.storeCtx, job.Payload.JobID, storage.JobStatusCompleted, 100, meta); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", job.Payload.JobID, err)
	}
}

func (c *RedisConsumer) markFailed(jobID, userID string, err error, duration time.Duration) {
	meta := failedMetadata(userID, err, duration)
	c.setStatus(jobID, storage.JobStatusFailed, meta)
	if updateErr := c.processor.UpdateJobStatus(c.storeCtx, jobID, storage.JobStatusFailed, 100, meta); updateErr != nil {
		log.Printf("[Job %s] Warning: Failed to update status to failed: %v", jobID, updateErr)
	}
}

// setStatus moves jobID between the status sets, stores the outcome and
// publishes a status event.
func (c *RedisConsumer) setStatus(jobID string, status string, outcome interface{}) {
	switch status {
	case storage.JobStatusProcessing:
		c.client.SAdd(c.storeCtx, c.keys.processing, jobID)
	case storage.JobStatusCompleted:
		c.client.SRem(c.storeCtx, c.keys.processing, jobID)
		c.client.SAdd(c.storeCtx, c.keys.completed, jobID)
		if outcome != nil {
			data, _ := json.Marshal(outcome)
			c.client.HSet(c.storeCtx, c.keys.results, jobID, data)
		}
	case storage.JobStatusFailed:
		c.client.SRem(c.storeCtx, c.keys.processing, jobID)
		c.client.SAdd(c.storeCtx, c.keys.failed, jobID)
		if outcome != nil {
			data, _ := json.Marshal(outcome)
			c.client.HSet(c.storeCtx, c.keys.errors, jobID, data)
		}
	}

	var data map[string]interface{}
	if m, ok := outcome.(map[string]interface{}); ok {
		data = m
	}
	c.publish(newStatusEvent(jobID, status, data))
}

func (c *RedisConsumer) publish(ev statusEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.client.Publish(c.storeCtx, c.keys.events, payload).Err(); err != nil {
		log.Printf("[Job %s] Warning: Failed to publish %s event: %v", ev.JobID, ev.Event, err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

// Stats returns GetStats with the consumer settings.
func (c *RedisConsumer) Stats(ctx context.Context) (map[string]interface{}, error) {
	counts, err := c.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]interface{}{
		"transport":   "redis",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
	for k, v := range counts {
		stats[k] = v
	}
	return stats, nil
}

func queueStats(ctx context.Context, client *redis.Client, keys queueKeys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.list)
	processing := pipe.SCard(ctx, keys.processing)
	completed := pipe.SCard(ctx, keys.completed)
	failed := pipe.SCard(ctx, keys.failed)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

// RedisProducer pushes jobs onto the Redis list queue.
type RedisProducer struct {
	client     *redis.Client
	keys       queueKeys
	maxRetries int
}

// NewRedisProducer connects to redisURL.
func NewRedisProducer(redisURL, queueName string) (*RedisProducer, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	client, err := newRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisProducer{client: client, keys: keysFor(queueName), maxRetries: DefaultMaxRetries}, nil
}

// Enqueue stores the job body and pushes its ID. Re-enqueueing an existing
// job ID resets its attempts, which is how a caller retries a failed scan.
func (p *RedisProducer) Enqueue(ctx context.Context, job *ScanJobPayload) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(&RedisJobData{
		ID:         job.JobID,
		Type:       TaskTypeScan,
		Payload:    *job,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: p.maxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.data, job.JobID, data)
		pipe.SRem(ctx, p.keys.failed, job.JobID)
		pipe.HDel(ctx, p.keys.errors, job.JobID)
		pipe.LPush(ctx, p.keys.list, job.JobID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}

	p.client.Publish(ctx, p.keys.events, mustJSON(newStatusEvent(job.JobID, storage.JobStatusQueued, nil)))
	return job.JobID, nil
}

// Stats returns queue statistics
func (p *RedisProducer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, p.client, p.keys)
}

// Close closes the Redis connection.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}

func mustJSON(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}
