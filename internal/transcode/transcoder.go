/**
 * Image Transcoder
 *
 * Turns a captured image plus an optional normalized crop rectangle into a
 * downscaled JPEG with a base64 payload ready for the OCR providers.
 */

package transcode

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docscan-worker/internal/crop"
	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

const (
	// DefaultTargetWidth is the widest image sent to OCR.
	DefaultTargetWidth = 1024
	// DefaultCompress is the JPEG quality used for OCR payloads.
	DefaultCompress = 0.7
)

// TranscodedImage is the output of a transcode. It is never mutated.
type TranscodedImage struct {
	URI    string `json:"uri"`
	Base64 string `json:"base64"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Transcoder crops, scales and re-encodes images.
type Transcoder struct {
	manipulator ImageManipulator
	compress    float64
	tempDir     string
	logger      *logging.Logger
}

// NewTranscoder creates a transcoder. compress <= 0 selects DefaultCompress.
func NewTranscoder(m ImageManipulator, compress float64, tempDir string) *Transcoder {
	if compress <= 0 || compress > 1 {
		compress = DefaultCompress
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Transcoder{
		manipulator: m,
		compress:    compress,
		tempDir:     tempDir,
		logger:      logging.NewLogger("[Transcoder]"),
	}
}

// Transcode reads sourceURI, applies rect (nil means the full frame) and
// scales the result down to at most targetWidth pixels wide. targetWidth <= 0
// selects DefaultTargetWidth.
func (t *Transcoder) Transcode(ctx context.Context, sourceURI string, rect *crop.Rect, targetWidth int) (*TranscodedImage, error) {
	if targetWidth <= 0 {
		targetWidth = DefaultTargetWidth
	}

	// Zero-op pass to learn the true pixel size.
	info, err := t.manipulator.Manipulate(ctx, sourceURI, nil, SaveOptions{Compress: 1, Format: FormatJPEG})
	if err != nil {
		return nil, scanerrors.NewTranscodeError(sourceURI, err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, scanerrors.NewTranscodeError(sourceURI, fmt.Errorf("image has no pixels (%dx%d)", info.Width, info.Height))
	}

	var actions []Action
	outWidth := info.Width
	if rect != nil {
		c, err := PixelCrop(crop.Normalize(*rect), info.Width, info.Height)
		if err != nil {
			return nil, scanerrors.NewTranscodeError(sourceURI, err)
		}
		actions = append(actions, Action{Crop: &c})
		outWidth = c.Width
	}
	if outWidth > targetWidth {
		actions = append(actions, Action{Resize: &ResizeAction{Width: targetWidth}})
	}

	res, err := t.manipulator.Manipulate(ctx, sourceURI, actions, SaveOptions{
		Compress: t.compress,
		Format:   FormatJPEG,
		Base64:   true,
	})
	if err != nil {
		return nil, scanerrors.NewTranscodeError(sourceURI, err)
	}
	if res.Base64 == "" {
		return nil, scanerrors.NewTranscodeError(sourceURI, fmt.Errorf("manipulator returned no base64 payload"))
	}

	t.logger.Debug("Image transcoded",
		"source", sourceURI,
		"sourceSize", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"outputSize", fmt.Sprintf("%dx%d", res.Width, res.Height),
		"actions", len(actions))

	return &TranscodedImage{
		URI:    res.URI,
		Base64: res.Base64,
		Width:  res.Width,
		Height: res.Height,
	}, nil
}

// TranscodeBytes writes data to the scratch directory and transcodes it.
func (t *Transcoder) TranscodeBytes(ctx context.Context, data []byte, rect *crop.Rect, targetWidth int) (*TranscodedImage, error) {
	if len(data) == 0 {
		return nil, scanerrors.NewTranscodeError("inline", fmt.Errorf("empty image buffer"))
	}
	if err := os.MkdirAll(t.tempDir, 0o755); err != nil {
		return nil, scanerrors.NewTranscodeError("inline", err)
	}

	path := filepath.Join(t.tempDir, TempFilePrefix+"src-"+uuid.New().String())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, scanerrors.NewTranscodeError("inline", fmt.Errorf("failed to stage image: %w", err))
	}
	defer os.Remove(path)

	return t.Transcode(ctx, path, rect, targetWidth)
}

// PixelCrop converts a normalized rectangle into a pixel crop on a
// width x height image. Coordinates are rounded and then clamped so the crop
// always lies inside the source.
func PixelCrop(r crop.Rect, width, height int) (CropAction, error) {
	originX := clampInt(int(math.Round(r.X*float64(width))), 0, width)
	originY := clampInt(int(math.Round(r.Y*float64(height))), 0, height)
	w := clampInt(int(math.Round(r.Width*float64(width))), 0, width-originX)
	h := clampInt(int(math.Round(r.Height*float64(height))), 0, height-originY)

	if w < 1 || h < 1 {
		return CropAction{}, fmt.Errorf("crop %s is empty on a %dx%d image", r, width, height)
	}
	return CropAction{OriginX: originX, OriginY: originY, Width: w, Height: h}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
