/**
 * Primary OCR Client - LLM vision text extraction
 *
 * Sends the transcoded JPEG as a data URI inside a single chat message and
 * reads the answer back from whichever text field the endpoint filled in.
 * No timeout is applied here; the orchestrator owns the deadline through ctx.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

const (
	// DefaultPrimaryOCRURL is the LLM endpoint used for text extraction.
	DefaultPrimaryOCRURL = "https://toolkit.rork.com/text/llm/"

	// DefaultOCRInstruction asks the model for the raw text only.
	DefaultOCRInstruction = `Extract all text from this image. Return only the extracted text, no additional commentary or formatting. If no text is found, return "No text detected".`
)

// responseTextFields are checked in order; the first non-empty string wins.
var responseTextFields = []string{"completion", "message", "text", "response"}

// PrimaryOCRClient talks to the LLM vision endpoint.
type PrimaryOCRClient struct {
	endpoint    string
	instruction string
	httpClient  *http.Client
	logger      *logging.Logger
}

// ChatRequest is the request body of the LLM endpoint.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is one conversation turn.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ChatContent `json:"content"`
}

// ChatContent is a text or image part of a message.
type ChatContent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// NewPrimaryOCRClient creates a client. Empty arguments select the defaults.
func NewPrimaryOCRClient(endpoint, instruction string) *PrimaryOCRClient {
	if endpoint == "" {
		endpoint = DefaultPrimaryOCRURL
	}
	if instruction == "" {
		instruction = DefaultOCRInstruction
	}
	return &PrimaryOCRClient{
		endpoint:    endpoint,
		instruction: instruction,
		httpClient:  &http.Client{},
		logger:      logging.NewLogger("[PrimaryOCR]"),
	}
}

// Name identifies the provider in results and logs.
func (c *PrimaryOCRClient) Name() string {
	return "primary"
}

// ExtractText sends base64Image (raw JPEG base64, no data URI prefix) and
// returns the first populated text field of the response. A 2xx response with
// no text field yields "" and a nil error.
func (c *PrimaryOCRClient) ExtractText(ctx context.Context, base64Image string) (string, error) {
	reqBody, err := json.Marshal(c.buildRequest(base64Image))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransportError{Service: "primary OCR", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Service: "primary OCR", Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Service: "primary OCR", StatusCode: resp.StatusCode, Body: string(body)}
	}

	text, err := ParseChatResponse(body)
	if err != nil {
		return "", err
	}

	c.logger.Info("Text extraction complete",
		"status", resp.StatusCode,
		"textLength", len(text),
		"duration", time.Since(startTime))

	return text, nil
}

func (c *PrimaryOCRClient) buildRequest(base64Image string) *ChatRequest {
	return &ChatRequest{
		Messages: []ChatMessage{{
			Role: "user",
			Content: []ChatContent{
				{Type: "text", Text: c.instruction},
				{Type: "image", Image: DataURI(base64Image)},
			},
		}},
	}
}

// ParseChatResponse returns the first non-empty string among completion,
// message, text and response.
func ParseChatResponse(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("failed to parse response: invalid JSON (%d bytes)", len(body))
	}

	for _, field := range gjson.GetManyBytes(body, responseTextFields...) {
		if field.Type == gjson.String && field.Str != "" {
			return field.Str, nil
		}
	}
	return "", nil
}

// DataURI wraps raw JPEG base64 as a data URI.
func DataURI(base64Image string) string {
	if strings.HasPrefix(base64Image, "data:") {
		return base64Image
	}
	return "data:image/jpeg;base64," + base64Image
}
