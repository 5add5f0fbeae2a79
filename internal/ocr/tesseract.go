//go:build tesseract

/**
 * Tesseract provider - offline last resort
 *
 * Runs libtesseract in-process through gosseract. Only compiled with
 * -tags tesseract since it needs the C library and language data installed.
 */

package ocr

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEnabled reports whether the local provider is compiled in.
const TesseractEnabled = true

// TesseractProvider extracts text with a local Tesseract install.
type TesseractProvider struct {
	language string
}

// NewTesseractProvider creates a provider. language defaults to "eng".
func NewTesseractProvider(language string) (*TesseractProvider, error) {
	if language == "" {
		language = "eng"
	}
	return &TesseractProvider{language: language}, nil
}

// Name identifies the provider in results and logs.
func (t *TesseractProvider) Name() string {
	return ProviderLocal
}

// ExtractText decodes base64Image and runs Tesseract over it.
func (t *TesseractProvider) ExtractText(ctx context.Context, base64Image string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(base64Image)
	if err != nil {
		return "", fmt.Errorf("invalid base64 image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("failed to set tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return text, nil
}
