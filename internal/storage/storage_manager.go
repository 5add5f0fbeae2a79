/**
 * Storage Manager for the docscan worker
 *
 * Coordinates scan history across PostgreSQL (records) and Qdrant (vectors).
 * PostgreSQL is authoritative: a scan is saved once its row is written, and
 * the vector index is brought in line afterwards on a best-effort basis.
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/title"
)

// Embedder turns text into vectors for the semantic index.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	repo     Repository
	index    VectorIndex
	embedder Embedder
	logger   *logging.Logger

	now   func() time.Time
	newID func() string
}

// NewScanInput is a scan about to be saved.
type NewScanInput struct {
	UserID        string
	JobID         string
	ImageURL      string
	ExtractedText string
	Title         string
	Provider      string
}

// NewPDFInput is an exported PDF about to be saved.
type NewPDFInput struct {
	UserID    string
	Title     string
	PDFURL    string
	PageCount int
}

// NewStorageManager creates a storage manager over repo. index and embedder
// are optional; without both, semantic search is unavailable and saves skip
// indexing.
func NewStorageManager(repo Repository, index VectorIndex, embedder Embedder) *StorageManager {
	return &StorageManager{
		repo:     repo,
		index:    index,
		embedder: embedder,
		logger:   logging.NewLogger("[StorageManager]"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// SemanticEnabled reports whether SemanticSearch can run.
func (sm *StorageManager) SemanticEnabled() bool {
	return sm.index != nil && sm.embedder != nil
}

// SaveScan stores a finished scan for a signed-in user.
func (sm *StorageManager) SaveScan(ctx context.Context, in *NewScanInput) (*ScanRecord, error) {
	if in == nil {
		return nil, fmt.Errorf("input is required")
	}
	if in.UserID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Saving a scan")
	}

	text := sanitizeText(in.ExtractedText)
	rec := &ScanRecord{
		ID:            sm.newID(),
		UserID:        in.UserID,
		ImageURL:      in.ImageURL,
		ExtractedText: text,
		Preview:       title.Preview(text, previewLength),
		Title:         sanitizeText(in.Title),
		Provider:      in.Provider,
		CreatedAt:     sm.now().UTC(),
	}

	if err := sm.repo.InsertScan(ctx, rec); err != nil {
		return nil, scanerrors.NewStorageFailedError(in.JobID, err)
	}

	sm.indexScan(ctx, rec)

	sm.logger.Info("Scan saved", "scanId", rec.ID, "userId", rec.UserID, "textLength", len(rec.ExtractedText))
	return rec, nil
}

// indexScan embeds and upserts the scan text. Failures are logged only;
// the record is already saved.
func (sm *StorageManager) indexScan(ctx context.Context, rec *ScanRecord) {
	if !sm.SemanticEnabled() {
		return
	}
	if strings.TrimSpace(rec.ExtractedText) == "" || title.IsNoText(rec.ExtractedText) {
		return
	}

	vector, err := sm.embedder.EmbedDocument(ctx, rec.ExtractedText)
	if err != nil {
		sm.logger.Warn("Failed to embed scan text", "scanId", rec.ID, "error", err)
		return
	}

	payload := map[string]interface{}{
		"title":      rec.Title,
		"provider":   rec.Provider,
		"created_at": rec.CreatedAt.Unix(),
	}
	if err := sm.index.UpsertScan(ctx, rec.ID, rec.UserID, vector, payload); err != nil {
		sm.logger.Warn("Failed to index scan", "scanId", rec.ID, "error", err)
	}
}

// ListScans returns the user's scans newest first.
func (sm *StorageManager) ListScans(ctx context.Context, userID string, limit int) ([]ScanRecord, error) {
	if userID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Viewing history")
	}
	scans, err := sm.repo.ListScans(ctx, userID, normalizeLimit(limit))
	if err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}
	return scans, nil
}

// DeleteScan removes one of the user's scans and its vector.
func (sm *StorageManager) DeleteScan(ctx context.Context, userID, scanID string) error {
	if userID == "" {
		return scanerrors.NewNotAuthenticatedError("Deleting a scan")
	}
	if err := sm.repo.DeleteScan(ctx, userID, scanID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return scanerrors.NewStorageFailedError("", err)
	}

	if sm.index != nil {
		if err := sm.index.DeleteScan(ctx, scanID); err != nil {
			sm.logger.Warn("Failed to delete scan vector", "scanId", scanID, "error", err)
		}
	}
	return nil
}

// SavePDF records an exported PDF.
func (sm *StorageManager) SavePDF(ctx context.Context, in *NewPDFInput) (*PDFRecord, error) {
	if in == nil {
		return nil, fmt.Errorf("input is required")
	}
	if in.UserID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Saving a PDF")
	}
	if in.PageCount < 1 {
		return nil, fmt.Errorf("page count must be positive, got %d", in.PageCount)
	}

	rec := &PDFRecord{
		ID:        sm.newID(),
		UserID:    in.UserID,
		Title:     sanitizeText(in.Title),
		PDFURL:    in.PDFURL,
		PageCount: in.PageCount,
		CreatedAt: sm.now().UTC(),
	}
	if err := sm.repo.InsertPDF(ctx, rec); err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}
	return rec, nil
}

// ListPDFs returns the user's PDFs newest first.
func (sm *StorageManager) ListPDFs(ctx context.Context, userID string, limit int) ([]PDFRecord, error) {
	if userID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Viewing history")
	}
	pdfs, err := sm.repo.ListPDFs(ctx, userID, normalizeLimit(limit))
	if err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}
	return pdfs, nil
}

// DeletePDF removes one of the user's PDFs.
func (sm *StorageManager) DeletePDF(ctx context.Context, userID, pdfID string) error {
	if userID == "" {
		return scanerrors.NewNotAuthenticatedError("Deleting a PDF")
	}
	if err := sm.repo.DeletePDF(ctx, userID, pdfID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return scanerrors.NewStorageFailedError("", err)
	}
	return nil
}

// ListAllHistory returns scans and PDFs merged newest first.
func (sm *StorageManager) ListAllHistory(ctx context.Context, userID string, limit int) ([]HistoryItem, error) {
	if userID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Viewing history")
	}
	limit = normalizeLimit(limit)

	var (
		scans []ScanRecord
		pdfs  []PDFRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		scans, err = sm.repo.ListScans(gctx, userID, limit)
		return err
	})
	g.Go(func() error {
		var err error
		pdfs, err = sm.repo.ListPDFs(gctx, userID, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}

	return MergeHistory(scans, pdfs, limit), nil
}

// ClearHistory deletes every scan and PDF of the user.
func (sm *StorageManager) ClearHistory(ctx context.Context, userID string) error {
	if userID == "" {
		return scanerrors.NewNotAuthenticatedError("Clearing history")
	}
	if err := sm.repo.ClearHistory(ctx, userID); err != nil {
		return scanerrors.NewStorageFailedError("", err)
	}
	if sm.index != nil {
		if err := sm.index.DeleteUser(ctx, userID); err != nil {
			sm.logger.Warn("Failed to clear scan vectors", "userId", userID, "error", err)
		}
	}
	sm.logger.Info("History cleared", "userId", userID)
	return nil
}

// SearchScans matches query as a case-insensitive substring of title or text.
func (sm *StorageManager) SearchScans(ctx context.Context, userID, query string, limit int) ([]ScanRecord, error) {
	if userID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Searching history")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return sm.ListScans(ctx, userID, limit)
	}
	scans, err := sm.repo.SearchScans(ctx, userID, query, normalizeLimit(limit))
	if err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}
	return scans, nil
}

// SemanticSearch ranks the user's scans by embedding similarity to query.
// Hits whose rows no longer exist are dropped; order follows the score.
func (sm *StorageManager) SemanticSearch(ctx context.Context, userID, query string, limit int) ([]ScoredScan, error) {
	if userID == "" {
		return nil, scanerrors.NewNotAuthenticatedError("Searching history")
	}
	if !sm.SemanticEnabled() {
		return nil, fmt.Errorf("semantic search is not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []ScoredScan{}, nil
	}

	vector, err := sm.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := sm.index.Search(ctx, userID, vector, normalizeLimit(limit))
	if err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}
	if len(hits) == 0 {
		return []ScoredScan{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := sm.repo.GetScansByIDs(ctx, userID, ids)
	if err != nil {
		return nil, scanerrors.NewStorageFailedError("", err)
	}

	byID := make(map[string]ScanRecord, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	results := make([]ScoredScan, 0, len(hits))
	for _, h := range hits {
		rec, ok := byID[h.ID]
		if !ok {
			continue
		}
		results = append(results, ScoredScan{ScanRecord: rec, Score: h.Score})
	}
	return results, nil
}

// UpdateJobStatus records job progress.
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.repo.UpdateJobStatus(ctx, update)
}

// GetJob returns the stored state of a job.
func (sm *StorageManager) GetJob(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.repo.GetJobByID(ctx, jobID)
}

// Ping checks the record store.
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.repo.Ping(ctx)
}

// Close closes both connections
func (sm *StorageManager) Close() error {
	var errs []error

	if sm.repo != nil {
		if err := sm.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if sm.index != nil {
		if err := sm.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("qdrant close error: %w", err))
		}
	}

	return errors.Join(errs...)
}
