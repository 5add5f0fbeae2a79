/**
 * OCR.space Client - fallback text extraction
 *
 * Multipart form POST to https://api.ocr.space/parse/image with the image as
 * a base64 data URI. See https://ocr.space/OCRAPI for the response shape.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

const (
	DefaultOCRSpaceURL = "https://api.ocr.space/parse/image"
	// DefaultOCRSpaceKey is the public free-tier key.
	DefaultOCRSpaceKey = "helloworld"
)

// OCRSpaceClient talks to the OCR.space parse endpoint.
type OCRSpaceClient struct {
	endpoint   string
	apiKey     string
	language   string
	engine     string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *logging.Logger
}

// OCRSpaceResponse is the parse/image response.
type OCRSpaceResponse struct {
	ParsedResults                []OCRSpaceParsedResult `json:"ParsedResults"`
	OCRExitCode                  json.Number            `json:"OCRExitCode"`
	IsErroredOnProcessing        bool                   `json:"IsErroredOnProcessing"`
	ErrorMessage                 json.RawMessage        `json:"ErrorMessage"`
	ProcessingTimeInMilliseconds string                 `json:"ProcessingTimeInMilliseconds"`
}

// OCRSpaceParsedResult is the result for one page.
type OCRSpaceParsedResult struct {
	FileParseExitCode int     `json:"FileParseExitCode"`
	ParsedText        *string `json:"ParsedText"`
	ErrorMessage      *string `json:"ErrorMessage"`
}

// NewOCRSpaceClient creates a client. Empty arguments select the public
// endpoint and free-tier key.
func NewOCRSpaceClient(endpoint, apiKey string) *OCRSpaceClient {
	if endpoint == "" {
		endpoint = DefaultOCRSpaceURL
	}
	if apiKey == "" {
		apiKey = DefaultOCRSpaceKey
	}
	return &OCRSpaceClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		language:   "eng",
		engine:     "2",
		httpClient: &http.Client{},
		logger:     logging.NewLogger("[OCRSpace]"),
	}
}

// WithRateLimit caps outgoing requests at perMinute. The free tier rejects
// bursts, so callers wait for a slot instead. perMinute <= 0 disables it.
func (c *OCRSpaceClient) WithRateLimit(perMinute int) *OCRSpaceClient {
	if perMinute <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	return c
}

// Name identifies the provider in results and logs.
func (c *OCRSpaceClient) Name() string {
	return "fallback"
}

// ExtractText returns the trimmed text of the first parsed result, or ""
// when the service found nothing.
func (c *OCRSpaceClient) ExtractText(ctx context.Context, base64Image string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("OCR.space rate limit wait: %w", err)
		}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := []struct{ name, value string }{
		{"base64Image", DataURI(base64Image)},
		{"language", c.language},
		{"apikey", c.apiKey},
		{"OCREngine", c.engine},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return "", fmt.Errorf("failed to write %s field: %w", f.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransportError{Service: "OCR.space", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Service: "OCR.space", Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Service: "OCR.space", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result OCRSpaceResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse OCR.space response: %w", err)
	}

	text := result.FirstText()
	c.logger.Info("OCR.space parse complete",
		"exitCode", result.OCRExitCode.String(),
		"errored", result.IsErroredOnProcessing,
		"textLength", len(text),
		"duration", time.Since(startTime))

	return text, nil
}

// FirstText returns the trimmed ParsedText of the first result.
func (r *OCRSpaceResponse) FirstText() string {
	if len(r.ParsedResults) == 0 || r.ParsedResults[0].ParsedText == nil {
		return ""
	}
	return strings.TrimSpace(*r.ParsedResults[0].ParsedText)
}
