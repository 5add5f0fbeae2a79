//go:build !tesseract

package ocr

import (
	"context"
	"errors"
)

// ErrTesseractNotEnabled is returned when the local provider was not compiled
// in. Rebuild with -tags tesseract to enable it.
var ErrTesseractNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags tesseract")

// TesseractEnabled reports whether the local provider is compiled in.
const TesseractEnabled = false

// TesseractProvider is unavailable in this build.
type TesseractProvider struct{}

// NewTesseractProvider always fails in this build.
func NewTesseractProvider(language string) (*TesseractProvider, error) {
	return nil, ErrTesseractNotEnabled
}

// Name identifies the provider in results and logs.
func (t *TesseractProvider) Name() string {
	return ProviderLocal
}

// ExtractText always fails in this build.
func (t *TesseractProvider) ExtractText(ctx context.Context, base64Image string) (string, error) {
	return "", ErrTesseractNotEnabled
}
