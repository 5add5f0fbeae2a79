/**
 * Service wiring shared by cmd/worker and cmd/docscan
 *
 * Builds the scan pipeline from Config:
 * - OCR chain: primary LLM -> OCR.space -> optional local Tesseract
 * - Transcoder writing into TempDir
 * - History: PostgreSQL, plus Qdrant + VoyageAI when both are configured
 * - File store for processed images when FILE_STORE_URL is set
 *
 * Optional parts that are not configured stay nil.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	"github.com/adverant/nexus/docscan-worker/internal/config"
	"github.com/adverant/nexus/docscan-worker/internal/health"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/ocr"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
	"github.com/adverant/nexus/docscan-worker/internal/result"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
	"github.com/adverant/nexus/docscan-worker/internal/transcode"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	OCR       *ocr.Orchestrator
	Processor *processor.ScanProcessor
	Postgres  *storage.PostgresClient // nil without DATABASE_URL
	History   *storage.StorageManager // nil without DATABASE_URL
	Artifacts *clients.ArtifactClient // nil without FILE_STORE_URL

	closeOnce sync.Once
	closeErr  error
}

// BuildOCR creates the provider chain.
func BuildOCR(cfg *config.Config) (*ocr.Orchestrator, error) {
	primary := clients.NewPrimaryOCRClient(cfg.PrimaryOCRURL, cfg.OCRInstruction)
	fallback := clients.NewOCRSpaceClient(cfg.OCRSpaceURL, cfg.OCRSpaceAPIKey).
		WithRateLimit(cfg.FallbackRatePerMin)

	chain := ocr.NewOrchestrator(
		ocr.Step{Provider: primary, Timeout: cfg.PrimaryTimeout()},
		ocr.Step{Provider: fallback, Timeout: cfg.FallbackTimeout(), RequireText: true},
	)

	if cfg.LocalTesseract {
		if !ocr.TesseractEnabled {
			log.Printf("WARNING: OCR_LOCAL_TESSERACT is set but this binary was built without -tags tesseract")
			return chain, nil
		}
		local, err := ocr.NewTesseractProvider(cfg.TesseractLanguage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Tesseract: %w", err)
		}
		chain.Append(ocr.Step{Provider: local, Timeout: cfg.FallbackTimeout(), RequireText: true})
	}

	return chain, nil
}

// Build wires every component cfg enables. withHistory=false skips the
// database even when DATABASE_URL is set.
func Build(ctx context.Context, cfg *config.Config, withHistory bool) (*App, error) {
	logging.SetLevel(cfg.LogLevel)

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", cfg.TempDir, err)
	}

	chain, err := BuildOCR(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, OCR: chain}

	procCfg := &processor.ProcessorConfig{
		Transcoder:        transcode.NewTranscoder(transcode.NewStdManipulator(cfg.TempDir), cfg.JPEGCompress, cfg.TempDir),
		OCR:               chain,
		Assembler:         result.NewAssembler(),
		TargetWidth:       cfg.TargetWidth,
		ProcessingTimeout: cfg.ProcessingTimeout(),
		MaxFileSize:       cfg.MaxFileSize,
		ImageDir:          cfg.ImageDir,
	}

	if withHistory && cfg.DatabaseURL != "" {
		if err := a.connectHistory(ctx); err != nil {
			return nil, err
		}
		procCfg.History = a.History
	}

	if cfg.FileStoreURL != "" {
		a.Artifacts = clients.NewArtifactClient(cfg.FileStoreURL)
		procCfg.Artifacts = a.Artifacts
	}

	a.Processor, err = processor.NewScanProcessor(procCfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize scan processor: %w", err)
	}

	return a, nil
}

func (a *App) connectHistory(ctx context.Context) error {
	cfg := a.Config

	pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	a.Postgres = pg

	var (
		index    storage.VectorIndex
		embedder storage.Embedder
	)
	if cfg.SemanticSearchEnabled() {
		q, qErr := storage.NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection)
		emb, eErr := clients.NewEmbeddingClient(cfg.VoyageAPIKey, cfg.VoyageURL)
		switch {
		case qErr != nil:
			log.Printf("WARNING: Qdrant unavailable, semantic search disabled: %v", qErr)
		case eErr != nil:
			q.Close()
			log.Printf("WARNING: Embedding client unavailable, semantic search disabled: %v", eErr)
		default:
			index, embedder = q, emb
		}
	}

	a.History = storage.NewStorageManager(pg, index, embedder)
	return nil
}

// Checks returns readiness checks for the configured dependencies.
func (a *App) Checks() map[string]health.CheckFunc {
	checks := map[string]health.CheckFunc{}
	if a.History != nil {
		checks["postgres"] = a.History.Ping
	}
	if a.Artifacts != nil {
		checks["file_store"] = a.Artifacts.HealthCheck
	}
	return checks
}

// Close releases connections. Later calls return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		switch {
		case a.History != nil:
			a.closeErr = a.History.Close()
		case a.Postgres != nil:
			a.closeErr = a.Postgres.Close()
		}
	})
	return a.closeErr
}

// ErrNoHistory is returned by commands that need the database when
// DATABASE_URL is not configured.
var ErrNoHistory = errors.New("history requires DATABASE_URL")

// RequireHistory returns the history store or ErrNoHistory.
func (a *App) RequireHistory() (*storage.StorageManager, error) {
	if a.History == nil {
		return nil, ErrNoHistory
	}
	return a.History, nil
}
