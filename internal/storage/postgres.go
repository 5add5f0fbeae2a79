/**
 * PostgreSQL Client for the docscan worker
 *
 * Persists scan and PDF history per user plus the status of queued scan jobs.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository is the persistence surface the history manager builds on.
type Repository interface {
	InsertScan(ctx context.Context, rec *ScanRecord) error
	ListScans(ctx context.Context, userID string, limit int) ([]ScanRecord, error)
	GetScansByIDs(ctx context.Context, userID string, ids []string) ([]ScanRecord, error)
	SearchScans(ctx context.Context, userID, query string, limit int) ([]ScanRecord, error)
	DeleteScan(ctx context.Context, userID, id string) error
	InsertPDF(ctx context.Context, rec *PDFRecord) error
	ListPDFs(ctx context.Context, userID string, limit int) ([]PDFRecord, error)
	DeletePDF(ctx context.Context, userID, id string) error
	ClearHistory(ctx context.Context, userID string) error
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	Ping(ctx context.Context) error
	Close() error
}

// PostgresClient handles database operations
type PostgresClient struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_history (
	id             UUID PRIMARY KEY,
	user_id        TEXT NOT NULL,
	image_url      TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL,
	preview        TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	provider       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scan_history_user_created_idx ON scan_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS pdf_history (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	pdf_url    TEXT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS pdf_history_user_created_idx ON pdf_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS scan_jobs (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT,
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	scan_id            UUID,
	provider           TEXT,
	processing_time_ms BIGINT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// Migrate creates the history and job tables when missing.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertScan stores rec. ID and CreatedAt must be set by the caller.
func (p *PostgresClient) InsertScan(ctx context.Context, rec *ScanRecord) error {
	query := `
		INSERT INTO scan_history (id, user_id, image_url, extracted_text, preview, title, provider, created_at)
		VALUES (:id, :user_id, :image_url, :extracted_text, :preview, :title, :provider, :created_at)
	`
	if _, err := p.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert scan (id=%s): %w", rec.ID, err)
	}
	return nil
}

// ListScans returns the user's newest scans.
func (p *PostgresClient) ListScans(ctx context.Context, userID string, limit int) ([]ScanRecord, error) {
	var recs []ScanRecord
	query := `
		SELECT id, user_id, image_url, extracted_text, preview, title, provider, created_at
		FROM scan_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := p.db.SelectContext(ctx, &recs, query, userID, normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return recs, nil
}

// GetScansByIDs returns the user's scans among ids, in no particular order.
func (p *PostgresClient) GetScansByIDs(ctx context.Context, userID string, ids []string) ([]ScanRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var recs []ScanRecord
	query := `
		SELECT id, user_id, image_url, extracted_text, preview, title, provider, created_at
		FROM scan_history
		WHERE user_id = $1 AND id = ANY($2::uuid[])
	`
	if err := p.db.SelectContext(ctx, &recs, query, userID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to load scans by id: %w", err)
	}
	return recs, nil
}

// SearchScans matches query against title and extracted text, case-insensitively.
func (p *PostgresClient) SearchScans(ctx context.Context, userID, query string, limit int) ([]ScanRecord, error) {
	var recs []ScanRecord
	q := `
		SELECT id, user_id, image_url, extracted_text, preview, title, provider, created_at
		FROM scan_history
		WHERE user_id = $1 AND (title ILIKE $2 OR extracted_text ILIKE $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	if err := p.db.SelectContext(ctx, &recs, q, userID, likePattern(query), normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to search scans: %w", err)
	}
	return recs, nil
}

// DeleteScan removes one of the user's scans.
func (p *PostgresClient) DeleteScan(ctx context.Context, userID, id string) error {
	return p.deleteOwned(ctx, "scan_history", userID, id)
}

// InsertPDF stores rec. ID and CreatedAt must be set by the caller.
func (p *PostgresClient) InsertPDF(ctx context.Context, rec *PDFRecord) error {
	query := `
		INSERT INTO pdf_history (id, user_id, title, pdf_url, page_count, created_at)
		VALUES (:id, :user_id, :title, :pdf_url, :page_count, :created_at)
	`
	if _, err := p.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert pdf (id=%s): %w", rec.ID, err)
	}
	return nil
}

// ListPDFs returns the user's newest PDFs.
func (p *PostgresClient) ListPDFs(ctx context.Context, userID string, limit int) ([]PDFRecord, error) {
	var recs []PDFRecord
	query := `
		SELECT id, user_id, title, pdf_url, page_count, created_at
		FROM pdf_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := p.db.SelectContext(ctx, &recs, query, userID, normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to list pdfs: %w", err)
	}
	return recs, nil
}

// DeletePDF removes one of the user's PDFs.
func (p *PostgresClient) DeletePDF(ctx context.Context, userID, id string) error {
	return p.deleteOwned(ctx, "pdf_history", userID, id)
}

func (p *PostgresClient) deleteOwned(ctx context.Context, table, userID, id string) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete from %s (id=%s): %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearHistory deletes every scan and PDF of the user in one transaction.
func (p *PostgresClient) ClearHistory(ctx context.Context, userID string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_history WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear scan history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pdf_history WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear pdf history: %w", err)
	}
	return tx.Commit()
}

// UpdateJobStatus upserts the job row so the first update creates it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if update.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO scan_jobs (
			id, user_id, status, progress, scan_id, provider,
			processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4,
			CASE WHEN $5 = '' THEN NULL ELSE $5::uuid END,
			NULLIF($6, ''), NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''),
			$10::jsonb, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			user_id = COALESCE(EXCLUDED.user_id, scan_jobs.user_id),
			scan_id = COALESCE(EXCLUDED.scan_id, scan_jobs.scan_id),
			provider = COALESCE(EXCLUDED.provider, scan_jobs.provider),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, scan_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = scan_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		update.JobID,            // $1
		update.UserID,           // $2
		update.Status,           // $3
		update.Progress,         // $4
		update.ScanID,           // $5
		update.Provider,         // $6
		update.ProcessingTimeMs, // $7
		update.ErrorCode,        // $8
		update.ErrorMessage,     // $9
		string(metadataJSON),    // $10
	)
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w", update.JobID, update.Status, err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	var (
		id, status               string
		userID, scanID, provider sql.NullString
		errorCode, errorMessage  sql.NullString
		progress                 int
		processingTimeMs         sql.NullInt64
		metadataJSON             []byte
		createdAt, updatedAt     time.Time
	)

	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, progress, scan_id::text, provider,
		       processing_time_ms, error_code, error_message, metadata,
		       created_at, updated_at
		FROM scan_jobs
		WHERE id = $1
	`, jobID).Scan(
		&id, &userID, &status, &progress, &scanID, &provider,
		&processingTimeMs, &errorCode, &errorMessage, &metadataJSON,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"status":    status,
		"progress":  progress,
		"metadata":  metadata,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
	}
	if userID.Valid {
		result["userId"] = userID.String
	}
	if scanID.Valid {
		result["scanId"] = scanID.String
	}
	if provider.Valid {
		result["provider"] = provider.String
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
