/**
 * OCR Orchestrator
 *
 * Runs an ordered list of text-extraction providers, one at a time, until one
 * produces usable text:
 * - primary LLM vision endpoint, hard 30s deadline
 * - OCR.space fallback, configurable deadline
 * - optional local Tesseract (build tag "tesseract")
 *
 * Each provider gets exactly one attempt per call. A caller-level retry
 * re-runs the whole chain.
 */

package ocr

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/title"
)

// DefaultPrimaryTimeout bounds the primary provider.
const DefaultPrimaryTimeout = 30 * time.Second

// Provider names reported in results.
const (
	ProviderPrimary  = "primary"
	ProviderFallback = "fallback"
	ProviderLocal    = "tesseract"
)

// Provider extracts text from a base64 JPEG.
type Provider interface {
	Name() string
	ExtractText(ctx context.Context, base64Image string) (string, error)
}

// Step is one provider in the chain.
type Step struct {
	Provider Provider
	// Timeout of zero leaves the call bounded only by the caller's ctx.
	Timeout time.Duration
	// RequireText makes an empty answer a failure. Without it an empty answer
	// is a successful "No text detected".
	RequireText bool
}

// Attempt records how one provider call went.
type Attempt struct {
	Provider string
	Duration time.Duration
	Err      error
}

// Result is a successful extraction.
type Result struct {
	Text         string        `json:"text"`
	ProviderUsed string        `json:"providerUsed"`
	Duration     time.Duration `json:"duration"`
	Attempts     []Attempt     `json:"-"`
}

// Orchestrator runs the provider chain.
type Orchestrator struct {
	steps  []Step
	logger *logging.Logger
}

// NewOrchestrator creates an orchestrator over steps, tried in order.
func NewOrchestrator(steps ...Step) *Orchestrator {
	return &Orchestrator{
		steps:  steps,
		logger: logging.NewLogger("[OCR]"),
	}
}

// NewDefaultOrchestrator builds the primary -> fallback chain.
func NewDefaultOrchestrator(primary, fallback Provider, fallbackTimeout time.Duration) *Orchestrator {
	return NewOrchestrator(
		Step{Provider: primary, Timeout: DefaultPrimaryTimeout},
		Step{Provider: fallback, Timeout: fallbackTimeout, RequireText: true},
	)
}

// Append adds a step to the end of the chain.
func (o *Orchestrator) Append(s Step) {
	o.steps = append(o.steps, s)
}

// ExtractText runs the chain. On failure the error is a *ScanError coded
// OCR_TIMEOUT, OCR_NETWORK_ERROR or OCR_EXTRACTION_FAILED.
func (o *Orchestrator) ExtractText(ctx context.Context, base64Image string) (*Result, error) {
	startTime := time.Now()
	attempts := make([]Attempt, 0, len(o.steps))

	for _, step := range o.steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("text extraction cancelled: %w", err)
		}

		name := step.Provider.Name()
		attemptStart := time.Now()
		text, err := o.call(ctx, step, base64Image)
		if err == nil && step.RequireText && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("%s returned no text", name)
		}

		attempt := Attempt{Provider: name, Duration: time.Since(attemptStart), Err: err}
		attempts = append(attempts, attempt)

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("text extraction cancelled: %w", ctx.Err())
			}
			o.logger.Warn("OCR provider failed, trying next",
				"provider", name,
				"duration", attempt.Duration,
				"error", err)
			continue
		}

		result := &Result{
			Text:         title.NormalizeText(text),
			ProviderUsed: name,
			Duration:     time.Since(startTime),
			Attempts:     attempts,
		}
		o.logger.Info("Text extracted",
			"provider", name,
			"attempts", len(attempts),
			"textLength", len(result.Text),
			"duration", result.Duration)
		return result, nil
	}

	return nil, classify(attempts)
}

// call runs one provider under the step's deadline. The provider runs on its
// own goroutine so a call that ignores ctx is abandoned when the deadline
// fires; its late answer is dropped.
func (o *Orchestrator) call(ctx context.Context, step Step, base64Image string) (string, error) {
	callCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	type answer struct {
		text string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		text, err := step.Provider.ExtractText(callCtx, base64Image)
		done <- answer{text, err}
	}()

	name := step.Provider.Name()
	select {
	case a := <-done:
		if a.err == nil {
			return a.text, nil
		}
		return "", translate(name, step.Timeout, callCtx, ctx, a.err)
	case <-callCtx.Done():
		return "", translate(name, step.Timeout, callCtx, ctx, callCtx.Err())
	}
}

// translate maps a raw provider error to an OCR error class.
func translate(name string, timeout time.Duration, callCtx, parent context.Context, err error) error {
	if parent.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return scanerrors.NewOCRTimeoutError(name, timeout, err)
	}
	if clients.IsTransport(err) {
		return scanerrors.NewOCRNetworkError(name, err)
	}
	return err
}

// classify picks the surfaced error once every provider has failed. A timed
// out primary is reported as a timeout whatever the later providers did, so
// a slow primary followed by a broken fallback still reads as a timeout.
// Otherwise timeouts and connectivity failures are only reported when no
// provider answered; an answered-but-unusable attempt makes it an extraction
// failure.
func classify(attempts []Attempt) error {
	code := scanerrors.ErrorOCRExtractionFailed
	summary := make([]string, 0, len(attempts))
	causes := make([]error, 0, len(attempts))
	timedOut, unreachable := 0, 0

	for _, a := range attempts {
		summary = append(summary, fmt.Sprintf("%s: %v", a.Provider, a.Err))
		causes = append(causes, a.Err)
		switch scanerrors.CodeOf(a.Err) {
		case scanerrors.ErrorOCRTimeout:
			timedOut++
		case scanerrors.ErrorOCRNetwork:
			unreachable++
		}
	}

	switch {
	case len(attempts) == 0:
	case scanerrors.HasCode(attempts[0].Err, scanerrors.ErrorOCRTimeout):
		code = scanerrors.ErrorOCRTimeout
	case timedOut+unreachable == len(attempts) && timedOut > 0:
		code = scanerrors.ErrorOCRTimeout
	case timedOut+unreachable == len(attempts):
		code = scanerrors.ErrorOCRNetwork
	}

	return scanerrors.NewOCRExhaustedError(code, summary, stderrors.Join(causes...))
}
