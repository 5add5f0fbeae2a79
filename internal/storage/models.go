package storage

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHistoryLimit is the page size of history listings.
const DefaultHistoryLimit = 50

// previewLength is the number of runes of text kept in ScanRecord.Preview.
const previewLength = 100

// ErrNotFound is returned when a delete or lookup matches no row owned by the user.
var ErrNotFound = errors.New("record not found")

// ScanRecord is one row of scan_history.
type ScanRecord struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	ImageURL      string    `db:"image_url" json:"imageUrl"`
	ExtractedText string    `db:"extracted_text" json:"extractedText"`
	Preview       string    `db:"preview" json:"preview"`
	Title         string    `db:"title" json:"title"`
	Provider      string    `db:"provider" json:"provider"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// PDFRecord is one row of pdf_history.
type PDFRecord struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Title     string    `db:"title" json:"title"`
	PDFURL    string    `db:"pdf_url" json:"pdfUrl"`
	PageCount int       `db:"page_count" json:"pageCount"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// HistoryKind tells scans and PDFs apart in the combined listing.
type HistoryKind string

const (
	HistoryScan HistoryKind = "scan"
	HistoryPDF  HistoryKind = "pdf"
)

// HistoryItem is an entry of the combined history tab.
type HistoryItem struct {
	Kind      HistoryKind `json:"kind"`
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Subtitle  string      `json:"subtitle"`
	URL       string      `json:"url"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ScoredScan is a semantic search hit.
type ScoredScan struct {
	ScanRecord
	Score float32 `json:"score"`
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	UserID           string
	Status           string
	Progress         int
	ScanID           string
	Provider         string
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// Job statuses written to scan_jobs.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// MergeHistory combines scans and PDFs newest first and keeps at most limit
// entries. Equal timestamps keep scans ahead of PDFs.
func MergeHistory(scans []ScanRecord, pdfs []PDFRecord, limit int) []HistoryItem {
	items := make([]HistoryItem, 0, len(scans)+len(pdfs))
	for _, s := range scans {
		items = append(items, HistoryItem{
			Kind:      HistoryScan,
			ID:        s.ID,
			Title:     s.Title,
			Subtitle:  s.Preview,
			URL:       s.ImageURL,
			CreatedAt: s.CreatedAt,
		})
	}
	for _, p := range pdfs {
		items = append(items, HistoryItem{
			Kind:      HistoryPDF,
			ID:        p.ID,
			Title:     p.Title,
			Subtitle:  pageCountLabel(p.PageCount),
			URL:       p.PDFURL,
			CreatedAt: p.CreatedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func pageCountLabel(n int) string {
	if n == 1 {
		return "1 page"
	}
	return strconv.Itoa(n) + " pages"
}

// likePattern builds an ILIKE pattern matching q anywhere, with LIKE
// metacharacters in q escaped.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// sanitizeText drops NUL bytes, which Postgres text columns reject.
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
