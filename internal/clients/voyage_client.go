/**
 * Embedding Client for scan history search
 *
 * Generates VoyageAI voyage-3 embeddings (1024 dimensions) of extracted scan
 * text so history can be searched by meaning as well as by substring.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

const (
	DefaultVoyageURL   = "https://api.voyageai.com/v1/embeddings"
	VoyageModel        = "voyage-3"
	EmbeddingDimension = 1024

	// Approximate character budget for one embedding input.
	maxEmbeddingChars = 16000
)

// EmbeddingClient handles VoyageAI embedding generation
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type voyageEmbeddingRequest struct {
	Input     string `json:"input"`
	Model     string `json:"model"`
	InputType string `json:"input_type,omitempty"`
}

type voyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEmbeddingClient creates a new embedding client. baseURL may be empty.
func NewEmbeddingClient(apiKey, baseURL string) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VoyageAI API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultVoyageURL
	}

	return &EmbeddingClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("[Embedding]"),
	}, nil
}

// EmbedDocument embeds scan text for storage.
func (e *EmbeddingClient) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "document")
}

// EmbedQuery embeds a search query.
func (e *EmbeddingClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return e.embed(ctx, query, "query")
}

func (e *EmbeddingClient) embed(ctx context.Context, text, inputType string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	if len(text) > maxEmbeddingChars {
		e.logger.Warn("Text too long, truncating", "chars", len(text), "limit", maxEmbeddingChars)
		text = text[:maxEmbeddingChars]
	}

	jsonData, err := json.Marshal(voyageEmbeddingRequest{Input: text, Model: VoyageModel, InputType: inputType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	startTime := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Service: "VoyageAI", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Service: "VoyageAI", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var voyageResp voyageEmbeddingResponse
	if err := json.Unmarshal(body, &voyageResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(voyageResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	embedding := voyageResp.Data[0].Embedding
	if len(embedding) != EmbeddingDimension {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, expected %d", len(embedding), EmbeddingDimension)
	}

	e.logger.Debug("Embedding generated",
		"inputType", inputType,
		"tokens", voyageResp.Usage.TotalTokens,
		"duration", time.Since(startTime))

	return embedding, nil
}
