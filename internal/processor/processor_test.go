package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/ocr"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
	"github.com/adverant/nexus/docscan-worker/internal/transcode"
)

type stubOCR struct {
	text  string
	err   error
	delay time.Duration
	got   string
}

func (s *stubOCR) ExtractText(ctx context.Context, b64 string) (*ocr.Result, error) {
	s.got = b64
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &ocr.Result{Text: s.text, ProviderUsed: ocr.ProviderPrimary}, nil
}

type recordingHistory struct {
	saved   []*storage.NewScanInput
	updates []*storage.JobUpdate
}

func (h *recordingHistory) SaveScan(_ context.Context, in *storage.NewScanInput) (*storage.ScanRecord, error) {
	if in.UserID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Saving a scan")
	}
	h.saved = append(h.saved, in)
	return &storage.ScanRecord{ID: "scan-1", UserID: in.UserID}, nil
}

func (h *recordingHistory) UpdateJobStatus(_ context.Context, u *storage.JobUpdate) error {
	h.updates = append(h.updates, u)
	return nil
}

type stubUploader struct {
	url  string
	err  error
	data []byte
}

func (u *stubUploader) UploadFile(_ context.Context, _, _, mimeType string, data []byte) (string, error) {
	u.data = data
	return u.url, u.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, extractor TextExtractor, history HistoryStore, uploader ArtifactUploader) *ScanProcessor {
	t.Helper()
	dir := t.TempDir()
	cfg := &ProcessorConfig{
		Transcoder: transcode.NewTranscoder(transcode.NewStdManipulator(filepath.Join(dir, "out")), 0, dir),
		OCR:        extractor,
	}
	if history != nil {
		cfg.History = history
	}
	if uploader != nil {
		cfg.Artifacts = uploader
	}
	p, err := NewScanProcessor(cfg)
	require.NoError(t, err)
	return p
}

func TestNewScanProcessor_RequiresCollaborators(t *testing.T) {
	_, err := NewScanProcessor(nil)
	assert.Error(t, err)

	_, err = NewScanProcessor(&ProcessorConfig{OCR: &stubOCR{}})
	assert.Error(t, err)
}

func TestProcessScan_FullPipeline(t *testing.T) {
	extractor := &stubOCR{text: "Quarterly Report 2024 summary"}
	history := &recordingHistory{}
	p := newTestProcessor(t, extractor, history, nil)

	rect := crop.Rect{X: 0.1, Y: 0.1, Width: 0.5, Height: 0.5}
	res, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-1",
		UserID:     "u1",
		ImageBytes: pngBytes(t, 400, 200),
		Crop:       &rect,
	})
	require.NoError(t, err)

	assert.Equal(t, "Quarterly Report 2024", res.Payload.Title)
	assert.Equal(t, 200, res.Payload.Width)
	assert.Equal(t, 100, res.Payload.Height)
	assert.NotEmpty(t, extractor.got)
	assert.True(t, res.Saved)
	assert.Equal(t, "scan-1", res.ScanID)
	require.Len(t, history.saved, 1)
	assert.Equal(t, "Quarterly Report 2024", history.saved[0].Title)
	assert.Empty(t, history.saved[0].ImageURL, "temp files are swept, so no local URI is recorded")
	assert.Equal(t, res.Payload.ImageURI, res.ImageURL)
}

func TestProcessScan_SavedScanKeepsImageOutsideTempDir(t *testing.T) {
	dir := t.TempDir()
	tempDir := filepath.Join(dir, "tmp")
	imageDir := filepath.Join(dir, "images")
	history := &recordingHistory{}

	p, err := NewScanProcessor(&ProcessorConfig{
		Transcoder: transcode.NewTranscoder(transcode.NewStdManipulator(tempDir), 0, tempDir),
		OCR:        &stubOCR{text: "Invoice 42"},
		History:    history,
		ImageDir:   imageDir,
	})
	require.NoError(t, err)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-1",
		UserID:     "u1",
		ImageBytes: pngBytes(t, 80, 40),
	})
	require.NoError(t, err)

	require.Len(t, history.saved, 1)
	saved := history.saved[0].ImageURL
	require.True(t, strings.HasPrefix(saved, "file://"+imageDir+string(filepath.Separator)), saved)
	assert.Equal(t, saved, res.ImageURL)
	assert.FileExists(t, transcode.PathFromURI(saved))

	// The temp copy can be swept without breaking the saved scan.
	require.NoError(t, os.Remove(transcode.PathFromURI(res.Payload.ImageURI)))
	assert.FileExists(t, transcode.PathFromURI(saved))
}

func TestProcessScan_GuestImageIsNotKept(t *testing.T) {
	dir := t.TempDir()
	imageDir := filepath.Join(dir, "images")

	p, err := NewScanProcessor(&ProcessorConfig{
		Transcoder: transcode.NewTranscoder(transcode.NewStdManipulator(dir), 0, dir),
		OCR:        &stubOCR{text: "hello"},
		History:    &recordingHistory{},
		ImageDir:   imageDir,
	})
	require.NoError(t, err)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{ImageBytes: pngBytes(t, 50, 50)})
	require.NoError(t, err)
	assert.Equal(t, res.Payload.ImageURI, res.ImageURL)
	assert.NoDirExists(t, imageDir)
}

func TestProcessScan_GuestIsNotSaved(t *testing.T) {
	history := &recordingHistory{}
	p := newTestProcessor(t, &stubOCR{text: "hello"}, history, nil)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{ImageBytes: pngBytes(t, 50, 50)})
	require.NoError(t, err)

	assert.False(t, res.Saved)
	assert.Empty(t, history.saved)
}

func TestProcessScan_TitleOverrideWins(t *testing.T) {
	p := newTestProcessor(t, &stubOCR{text: "some words here"}, nil, nil)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{
		ImageBytes:    pngBytes(t, 50, 50),
		TitleOverride: "  My Receipt ",
	})
	require.NoError(t, err)
	assert.Equal(t, "My Receipt", res.Payload.Title)
}

func TestProcessScan_InvalidCropIsRejected(t *testing.T) {
	extractor := &stubOCR{text: "x"}
	p := newTestProcessor(t, extractor, nil, nil)

	bad := crop.Rect{X: 0.5, Y: 0, Width: 0.8, Height: 0.5}
	_, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-2",
		ImageBytes: pngBytes(t, 50, 50),
		Crop:       &bad,
	})

	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorInvalidCropGeometry))
	assert.Empty(t, extractor.got)
}

func TestProcessScan_UnsupportedImageIsTranscodeError(t *testing.T) {
	p := newTestProcessor(t, &stubOCR{text: "x"}, nil, nil)

	_, err := p.ProcessScan(context.Background(), &ScanRequest{
		JobID:      "job-3",
		ImageBytes: []byte("%PDF-1.7 not an image"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrTranscode))
	var se *scanerrors.ScanError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "job-3", se.JobID)
}

func TestProcessScan_OCRFailurePassesThrough(t *testing.T) {
	ocrErr := scanerrors.NewOCRExhaustedError(scanerrors.ErrorOCRExtractionFailed, []string{"primary", "fallback"}, errors.New("boom"))
	history := &recordingHistory{}
	p := newTestProcessor(t, &stubOCR{err: ocrErr}, history, nil)

	_, err := p.ProcessScan(context.Background(), &ScanRequest{UserID: "u1", ImageBytes: pngBytes(t, 50, 50)})

	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorOCRExtractionFailed))
	assert.Empty(t, history.saved)
}

func TestProcessScan_TimeoutIsProcessingTimeout(t *testing.T) {
	p := newTestProcessor(t, &stubOCR{text: "late", delay: time.Second}, nil, nil)
	p.config.ProcessingTimeout = 50 * time.Millisecond

	_, err := p.ProcessScan(context.Background(), &ScanRequest{JobID: "job-4", ImageBytes: pngBytes(t, 50, 50)})

	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorProcessingTimeout))
}

func TestProcessScan_UploadsImage(t *testing.T) {
	uploader := &stubUploader{url: "https://files/scan.jpg"}
	p := newTestProcessor(t, &stubOCR{text: "hello"}, nil, uploader)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{ImageBytes: pngBytes(t, 50, 50)})
	require.NoError(t, err)

	assert.Equal(t, "https://files/scan.jpg", res.ImageURL)
	assert.Equal(t, []byte{0xFF, 0xD8}, uploader.data[:2])
}

func TestProcessScan_UploadFailureKeepsLocalURI(t *testing.T) {
	uploader := &stubUploader{err: errors.New("503")}
	p := newTestProcessor(t, &stubOCR{text: "hello"}, nil, uploader)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{ImageBytes: pngBytes(t, 50, 50)})
	require.NoError(t, err)
	assert.Equal(t, res.Payload.ImageURI, res.ImageURL)
}

func TestProcessScan_DownloadsWithRetry(t *testing.T) {
	img := pngBytes(t, 60, 30)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	p := newTestProcessor(t, &stubOCR{text: "hello"}, nil, nil)

	res, err := p.ProcessScan(context.Background(), &ScanRequest{ImageURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 60, res.Payload.Width)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestProcessScan_OversizedDownloadIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(bytes.Repeat([]byte{0xFF}, 2048))
	}))
	defer srv.Close()

	p := newTestProcessor(t, &stubOCR{text: "hello"}, nil, nil)
	p.config.MaxFileSize = 1024

	_, err := p.ProcessScan(context.Background(), &ScanRequest{ImageURL: srv.URL})

	assert.True(t, scanerrors.HasCode(err, scanerrors.ErrorTranscodeFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpdateJobStatus_MapsMetadata(t *testing.T) {
	history := &recordingHistory{}
	p := newTestProcessor(t, &stubOCR{}, history, nil)

	err := p.UpdateJobStatus(context.Background(), "job-5", storage.JobStatusFailed, 100, map[string]interface{}{
		"userId":    "u1",
		"error":     "timed out",
		"errorCode": string(scanerrors.ErrorOCRTimeout),
	})
	require.NoError(t, err)

	require.Len(t, history.updates, 1)
	u := history.updates[0]
	assert.Equal(t, "job-5", u.JobID)
	assert.Equal(t, "u1", u.UserID)
	assert.Equal(t, "OCR_TIMEOUT", u.ErrorCode)
	assert.Equal(t, "timed out", u.ErrorMessage)
}

func TestDetectMimeTypeFromMagicBytes(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"heic", []byte("\x00\x00\x00\x18ftypheic"), "image/heic"},
		{"pdf", []byte("%PDF-1.4"), "application/pdf"},
		{"short", []byte{0xFF}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectMimeTypeFromMagicBytes(tc.data))
		})
	}
}
