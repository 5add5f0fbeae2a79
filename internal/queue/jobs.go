package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
)

const (
	// TaskTypeScan is the Asynq task type of scan jobs.
	TaskTypeScan = "scan:process"
	// DefaultQueueName is the Redis list and Asynq queue scan jobs go to.
	DefaultQueueName = "docscan:jobs"
	// DefaultProcessingTimeout bounds one job attempt.
	DefaultProcessingTimeout = 5 * time.Minute
	// DefaultMaxRetries is the queue-level retry budget.
	DefaultMaxRetries = 3
)

// Enqueuer submits scan jobs to one of the queue transports.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *ScanJobPayload) (string, error)
	Close() error
}

// Worker is a queue consumer of either transport.
type Worker interface {
	Start() error
	Stop() error
	Stats(ctx context.Context) (map[string]interface{}, error)
}

var (
	_ Enqueuer = (*Producer)(nil)
	_ Enqueuer = (*RedisProducer)(nil)
	_ Worker   = (*Consumer)(nil)
	_ Worker   = (*RedisConsumer)(nil)
)

// ScanJobPayload is the job body shared by both queue transports.
type ScanJobPayload struct {
	JobID         string                 `json:"jobId"`
	UserID        string                 `json:"userId,omitempty"`
	ImageBytes    []byte                 `json:"-"` // set by UnmarshalJSON from "image"
	ImagePath     string                 `json:"imagePath,omitempty"`
	ImageURL      string                 `json:"imageUrl,omitempty"`
	Crop          *crop.Rect             `json:"crop,omitempty"`
	TitleOverride string                 `json:"title,omitempty"`
	TargetWidth   int                    `json:"targetWidth,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON writes ImageBytes as base64 under "image".
func (p ScanJobPayload) MarshalJSON() ([]byte, error) {
	type Alias ScanJobPayload
	aux := struct {
		Image string `json:"image,omitempty"`
		Alias
	}{
		Alias: Alias(p),
	}
	if len(p.ImageBytes) > 0 {
		aux.Image = base64.StdEncoding.EncodeToString(p.ImageBytes)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON accepts "image" as a base64 string, a data URI, or a
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *ScanJobPayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias ScanJobPayload
	aux := &struct {
		Image interface{} `json:"image,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal ScanJobPayload: %w", err)
	}

	if aux.Image == nil {
		return nil
	}

	switch v := aux.Image.(type) {
	case string:
		if i := strings.Index(v, ";base64,"); strings.HasPrefix(v, "data:") && i >= 0 {
			v = v[i+len(";base64,"):]
		}
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 image: %w", err)
		}
		p.ImageBytes = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.ImageBytes = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.ImageBytes[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("image must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the payload can be processed at all.
func (p *ScanJobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.ImageBytes) == 0 && p.ImagePath == "" && p.ImageURL == "" {
		return fmt.Errorf("job %s has no image source", p.JobID)
	}
	return nil
}

// ToRequest converts the payload into a processor request.
func (p *ScanJobPayload) ToRequest() *processor.ScanRequest {
	return &processor.ScanRequest{
		JobID:         p.JobID,
		UserID:        p.UserID,
		ImageBytes:    p.ImageBytes,
		ImagePath:     p.ImagePath,
		ImageURL:      p.ImageURL,
		Crop:          p.Crop,
		TitleOverride: p.TitleOverride,
		TargetWidth:   p.TargetWidth,
		Metadata:      p.Metadata,
	}
}

// ShouldRetry reports whether the queue itself should run a failed job
// again. Extraction failures are left to a caller-invoked retry of the
// whole chain, and bad input never gets better on a second try.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	switch scanerrors.CodeOf(err) {
	case "", scanerrors.ErrorStorageFailed:
		return true
	}
	return false
}

// completedMetadata is the job status metadata of a successful run.
func completedMetadata(userID string, res *processor.ScanResult) map[string]interface{} {
	return map[string]interface{}{
		"userId":         userID,
		"scanId":         res.ScanID,
		"provider":       res.Payload.Provider,
		"processingTime": res.ProcessingTimeMs,
		"title":          res.Payload.Title,
		"imageUrl":       res.ImageURL,
		"saved":          res.Saved,
	}
}

// failedMetadata is the job status metadata of a failed run.
func failedMetadata(userID string, err error, duration time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"userId":         userID,
		"error":          err.Error(),
		"errorCode":      string(scanerrors.CodeOf(err)),
		"userMessage":    scanerrors.UserMessage(err),
		"retryable":      scanerrors.IsRetryable(err),
		"processingTime": duration.Milliseconds(),
	}
}

// statusEvent is the pub/sub message announcing a job state change.
type statusEvent struct {
	Event     string                 `json:"event"`
	JobID     string                 `json:"jobId"`
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func newStatusEvent(jobID, status string, data map[string]interface{}) statusEvent {
	return statusEvent{
		Event:     "job:" + status,
		JobID:     jobID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}
