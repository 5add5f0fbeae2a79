/**
 * Scan Processor for the docscan worker
 *
 * Runs one scan job through the pipeline:
 * - load image (inline bytes, local path or URL download)
 * - validate crop rectangle
 * - transcode (crop, downscale, JPEG + base64)
 * - OCR chain (primary -> fallback)
 * - assemble result (title, preview)
 * - optional artifact upload and history save
 */

package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/ocr"
	"github.com/adverant/nexus/docscan-worker/internal/result"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
	"github.com/adverant/nexus/docscan-worker/internal/transcode"
)

const (
	// DefaultProcessingTimeout bounds a whole job.
	DefaultProcessingTimeout = 3 * time.Minute
	// DefaultMaxFileSize caps downloaded and inline images.
	DefaultMaxFileSize = 25 * 1024 * 1024
)

// ScanProcessorInterface defines the interface for scan processing
type ScanProcessorInterface interface {
	ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// TextExtractor is the OCR chain.
type TextExtractor interface {
	ExtractText(ctx context.Context, base64Image string) (*ocr.Result, error)
}

// ArtifactUploader stores processed images permanently.
type ArtifactUploader interface {
	UploadFile(ctx context.Context, sourceID, filename, mimeType string, data []byte) (string, error)
}

// HistoryStore persists finished scans and job progress.
type HistoryStore interface {
	SaveScan(ctx context.Context, in *storage.NewScanInput) (*storage.ScanRecord, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Transcoder        *transcode.Transcoder
	OCR               TextExtractor
	Assembler         *result.Assembler
	History           HistoryStore     // optional
	Artifacts         ArtifactUploader // optional
	TargetWidth       int
	ProcessingTimeout time.Duration
	MaxFileSize       int64
	ImageDir          string // keeps images of saved scans without a file store
}

// ScanRequest represents a scan processing request. Exactly one image source
// is used, in the order ImageBytes, ImagePath, ImageURL.
type ScanRequest struct {
	JobID         string
	UserID        string
	ImageBytes    []byte
	ImagePath     string
	ImageURL      string
	Crop          *crop.Rect
	TitleOverride string
	TargetWidth   int
	Metadata      map[string]interface{}
}

// ScanResult represents the processing result
type ScanResult struct {
	Payload          *result.Payload `json:"payload"`
	ImageURL         string          `json:"imageUrl"`
	ScanID           string          `json:"scanId,omitempty"`
	Saved            bool            `json:"saved"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// ScanProcessor handles scan processing
type ScanProcessor struct {
	config     *ProcessorConfig
	httpClient *http.Client
}

// NewScanProcessor creates a new scan processor
func NewScanProcessor(cfg *ProcessorConfig) (*ScanProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Transcoder == nil {
		return nil, fmt.Errorf("transcoder is required")
	}
	if cfg.OCR == nil {
		return nil, fmt.Errorf("OCR chain is required")
	}
	if cfg.Assembler == nil {
		cfg.Assembler = result.NewAssembler()
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultProcessingTimeout
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	if cfg.History == nil {
		log.Printf("WARNING: History store not configured. Scans will not be saved.")
	}
	if cfg.Artifacts == nil {
		log.Printf("WARNING: Artifact storage not configured. Scan images stay in the local temp dir.")
	}

	return &ScanProcessor{
		config:     cfg,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// ProcessScan processes a scan through the complete pipeline
func (p *ScanProcessor) ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	startTime := time.Now()
	log.Printf("[Job %s] Starting scan pipeline", req.JobID)

	jobCtx, cancel := context.WithTimeout(ctx, p.config.ProcessingTimeout)
	defer cancel()

	res, err := p.process(jobCtx, req, startTime)
	if err != nil {
		if jobCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, scanerrors.NewProcessingTimeoutError(req.JobID, p.config.ProcessingTimeout, err)
		}
		var se *scanerrors.ScanError
		if errors.As(err, &se) && se.JobID == "" {
			se.WithJob(req.JobID)
		}
		return nil, err
	}
	return res, nil
}

func (p *ScanProcessor) process(ctx context.Context, req *ScanRequest, startTime time.Time) (*ScanResult, error) {
	// Step 1: Validate crop
	var rect *crop.Rect
	if req.Crop != nil {
		if err := crop.Validate(*req.Crop); err != nil {
			return nil, err
		}
		r := crop.Normalize(*req.Crop)
		rect = &r
	}

	targetWidth := req.TargetWidth
	if targetWidth <= 0 {
		targetWidth = p.config.TargetWidth
	}

	// Step 2: Load and transcode
	img, err := p.transcode(ctx, req, rect, targetWidth)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Image transcoded: %dx%d", req.JobID, img.Width, img.Height)

	// Step 3: OCR
	ocrResult, err := p.config.OCR.ExtractText(ctx, img.Base64)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] OCR complete: provider=%s, chars=%d, duration=%v",
		req.JobID, ocrResult.ProviderUsed, len(ocrResult.Text), ocrResult.Duration)

	// Step 4: Assemble
	payload := p.config.Assembler.Assemble(img, ocrResult, req.TitleOverride)

	out := &ScanResult{
		Payload:  payload,
		ImageURL: p.storeImage(ctx, req, payload),
	}

	// Step 5: Save to history
	if p.config.History != nil && req.UserID != "" {
		imageURL := p.keepImage(req, out.ImageURL)
		if imageURL != "" {
			out.ImageURL = imageURL
		}
		rec, err := p.config.History.SaveScan(ctx, &storage.NewScanInput{
			UserID:        req.UserID,
			JobID:         req.JobID,
			ImageURL:      imageURL,
			ExtractedText: payload.Text,
			Title:         payload.Title,
			Provider:      payload.Provider,
		})
		if err != nil {
			return nil, err
		}
		out.ScanID = rec.ID
		out.Saved = true
	} else if req.UserID == "" {
		log.Printf("[Job %s] Guest scan, skipping history", req.JobID)
	}

	out.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	log.Printf("[Job %s] Scan pipeline complete: title=%q, saved=%v, duration=%dms",
		req.JobID, payload.Title, out.Saved, out.ProcessingTimeMs)
	return out, nil
}

func (p *ScanProcessor) transcode(ctx context.Context, req *ScanRequest, rect *crop.Rect, targetWidth int) (*transcode.TranscodedImage, error) {
	if req.ImagePath != "" && len(req.ImageBytes) == 0 {
		return p.config.Transcoder.Transcode(ctx, req.ImagePath, rect, targetWidth)
	}

	data, err := p.loadImage(ctx, req)
	if err != nil {
		return nil, scanerrors.NewTranscodeError(req.ImageURL, err)
	}
	if mime := detectMimeTypeFromMagicBytes(data); !isSupportedImage(mime) {
		return nil, scanerrors.NewTranscodeError("inline", fmt.Errorf("unsupported image type %q", mime))
	}
	return p.config.Transcoder.TranscodeBytes(ctx, data, rect, targetWidth)
}

// storeImage uploads the transcoded JPEG and returns its permanent URL.
// Without an uploader, or on failure, the local URI is kept.
func (p *ScanProcessor) storeImage(ctx context.Context, req *ScanRequest, payload *result.Payload) string {
	if p.config.Artifacts == nil {
		return payload.ImageURI
	}

	data, err := os.ReadFile(transcode.PathFromURI(payload.ImageURI))
	if err != nil {
		log.Printf("[Job %s] WARNING: Failed to read transcoded image: %v", req.JobID, err)
		return payload.ImageURI
	}

	url, err := p.config.Artifacts.UploadFile(ctx, payload.ID, payload.ID+".jpg", "image/jpeg", data)
	if err != nil {
		log.Printf("[Job %s] WARNING: Failed to store image artifact: %v", req.JobID, err)
		return payload.ImageURI
	}
	log.Printf("[Job %s] Image stored permanently: %s", req.JobID, url)
	return url
}

// keepImage returns the image URL to record for a saved scan. Temp files are
// swept, so a local image is copied into ImageDir; without one the scan is
// saved with no image.
func (p *ScanProcessor) keepImage(req *ScanRequest, imageURL string) string {
	if !strings.HasPrefix(imageURL, "file://") {
		return imageURL
	}
	if p.config.ImageDir == "" {
		log.Printf("[Job %s] WARNING: No file store or IMAGE_DIR configured, saving scan without its image", req.JobID)
		return ""
	}

	dir, err := filepath.Abs(p.config.ImageDir)
	if err == nil {
		err = os.MkdirAll(dir, 0o755)
	}
	src := transcode.PathFromURI(imageURL)
	dst := filepath.Join(dir, filepath.Base(src))
	if err == nil {
		err = copyFile(src, dst)
	}
	if err != nil {
		log.Printf("[Job %s] WARNING: Failed to keep scan image: %v", req.JobID, err)
		return ""
	}
	return "file://" + dst
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// UpdateJobStatus records job progress.
func (p *ScanProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.config.History == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if userID, ok := metadata["userId"].(string); ok {
			update.UserID = userID
		}
		if scanID, ok := metadata["scanId"].(string); ok {
			update.ScanID = scanID
		}
		if provider, ok := metadata["provider"].(string); ok {
			update.Provider = provider
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			update.ErrorMessage = errorMsg
		}
		if code, ok := metadata["errorCode"].(string); ok && code != "" {
			update.ErrorCode = code
		}
	}

	return p.config.History.UpdateJobStatus(ctx, update)
}

func (p *ScanProcessor) loadImage(ctx context.Context, req *ScanRequest) ([]byte, error) {
	// If buffer is provided, use it directly
	if len(req.ImageBytes) > 0 {
		if int64(len(req.ImageBytes)) > p.config.MaxFileSize {
			return nil, fmt.Errorf("image size exceeds maximum: %d > %d bytes", len(req.ImageBytes), p.config.MaxFileSize)
		}
		return req.ImageBytes, nil
	}

	if req.ImageURL != "" {
		log.Printf("[Job %s] Downloading image from URL: %s", req.JobID, req.ImageURL)
		data, err := p.downloadImage(ctx, req.JobID, req.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download image: %w", err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no image source provided (bytes, path or URL)")
}

// downloadImage fetches url with exponential backoff between attempts.
func (p *ScanProcessor) downloadImage(ctx context.Context, jobID string, url string) ([]byte, error) {
	const (
		maxRetries       = 3
		initialBackoffMs = 500
		maxBackoffMs     = 4000
	)

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := p.fetch(ctx, url)
		if err == nil {
			log.Printf("[Job %s] Download successful on attempt %d: %d bytes", jobID, attempt, len(data))
			return data, nil
		}
		lastErr = err
		log.Printf("[Job %s] Download attempt %d/%d failed: %v", jobID, attempt, maxRetries, err)

		var tooLarge *sizeError
		if errors.As(err, &tooLarge) {
			return nil, err
		}

		if attempt < maxRetries {
			backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
			if backoffMs > maxBackoffMs {
				backoffMs = maxBackoffMs
			}
			select {
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", maxRetries, lastErr)
}

type sizeError struct {
	size, limit int64
}

func (e *sizeError) Error() string {
	return fmt.Sprintf("image size exceeds maximum: %d > %d bytes", e.size, e.limit)
}

func (p *ScanProcessor) fetch(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > p.config.MaxFileSize {
		return nil, &sizeError{size: resp.ContentLength, limit: p.config.MaxFileSize}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > p.config.MaxFileSize {
		return nil, &sizeError{size: int64(len(data)), limit: p.config.MaxFileSize}
	}
	return data, nil
}

func isSupportedImage(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}

// detectMimeTypeFromMagicBytes sniffs the container format of data.
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// HEIC: ftyp box with a heic/heix/mif1 brand
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heix", "mif1":
			return "image/heic"
		}
	}

	return ""
}
