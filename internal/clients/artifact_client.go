/**
 * Artifact Client for the docscan worker
 *
 * Uploads scan images and exported PDFs to the file store so history rows can
 * carry a durable image_url / pdf_url instead of a device-local path.
 *
 * Upload flow:
 * 1. Worker transcodes the capture (or renders the PDF)
 * 2. Worker POSTs it to /api/files/upload as multipart form data
 * 3. The store returns an artifact ID and a download URL
 * 4. The URL is persisted with the history record
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
	"net/textproto"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

// SourceService identifies this worker to the file store.
const SourceService = "docscan-worker"

// ArtifactClient handles communication with the file store
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArtifactUploadRequest represents a file upload request
type ArtifactUploadRequest struct {
	FileBuffer []byte
	Filename   string
	MimeType   string
	// SourceID is the scan or job ID the file belongs to.
	SourceID string
	// TTLDays <= 0 keeps the file for ~100 years.
	TTLDays  int
	Metadata map[string]interface{}
}

// ArtifactUploadResponse represents the response from uploading an artifact
type ArtifactUploadResponse struct {
	Success  bool `json:"success"`
	Artifact struct {
		ID             string `json:"id"`
		Filename       string `json:"filename"`
		FileSize       int64  `json:"file_size"`
		MimeType       string `json:"mime_type"`
		StorageBackend string `json:"storage_backend"`
		DownloadURL    string `json:"download_url"`
		CreatedAt      string `json:"created_at"`
	} `json:"artifact,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("[ArtifactClient]"),
	}
}

// HealthCheck verifies the file store is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Service: "file store", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Service: "file store", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// UploadArtifact uploads a file and returns the stored artifact.
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*ArtifactUploadResponse, error) {
	if len(req.FileBuffer) == 0 {
		return nil, fmt.Errorf("file buffer is required: received empty buffer")
	}
	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required: received empty string")
	}
	if req.SourceID == "" {
		return nil, fmt.Errorf("source_id is required: identifies the scan owning this artifact")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	if req.MimeType != "" {
		header.Set("Content-Type", req.MimeType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.FileBuffer); err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}

	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = 36500
	}
	formFields := map[string]string{
		"source_service": SourceService,
		"source_id":      req.SourceID,
		"ttl_days":       fmt.Sprintf("%d", ttlDays),
	}
	if len(req.Metadata) > 0 {
		metadataJSON, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
		}
		formFields["metadata"] = string(metadataJSON)
	}
	for name, value := range formFields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Service: "file store", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Service: "file store", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result ArtifactUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}
	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	c.logger.Info("Artifact uploaded",
		"id", result.Artifact.ID,
		"filename", req.Filename,
		"size", len(req.FileBuffer),
		"storage", result.Artifact.StorageBackend,
		"duration", time.Since(startTime))

	return &result, nil
}

// UploadFile is UploadArtifact for callers that only need the download URL.
func (c *ArtifactClient) UploadFile(ctx context.Context, sourceID, filename, mimeType string, data []byte) (string, error) {
	res, err := c.UploadArtifact(ctx, &ArtifactUploadRequest{
		FileBuffer: data,
		Filename:   filename,
		MimeType:   mimeType,
		SourceID:   sourceID,
	})
	if err != nil {
		return "", err
	}
	return res.Artifact.DownloadURL, nil
}
