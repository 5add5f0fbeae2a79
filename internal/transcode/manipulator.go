/**
 * Image manipulation backend
 *
 * ImageManipulator is the seam between the transcoder and whatever actually
 * touches pixels. StdManipulator decodes JPEG/PNG/WebP from local files,
 * applies crop and resize actions in order and writes a JPEG (or PNG) into
 * a scratch directory under a random name.
 */

package transcode

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// TempFilePrefix starts the name of every file written to the temp dir.
const TempFilePrefix = "docscan-"

// Format of a saved image.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// CropAction cuts a pixel rectangle out of the image.
type CropAction struct {
	OriginX int
	OriginY int
	Width   int
	Height  int
}

// ResizeAction scales the image. A zero dimension is derived from the other
// one so the aspect ratio is kept.
type ResizeAction struct {
	Width  int
	Height int
}

// Action is one manipulation step; exactly one field is set.
type Action struct {
	Crop   *CropAction
	Resize *ResizeAction
}

// SaveOptions controls the encoded output.
type SaveOptions struct {
	// Compress is the JPEG quality in 0..1.
	Compress float64
	Format   Format
	Base64   bool
}

// ManipulateResult describes the written image.
type ManipulateResult struct {
	URI    string
	Width  int
	Height int
	Base64 string
}

// ImageManipulator applies actions to the image at uri.
type ImageManipulator interface {
	Manipulate(ctx context.Context, uri string, actions []Action, opts SaveOptions) (*ManipulateResult, error)
}

// StdManipulator implements ImageManipulator on local files.
type StdManipulator struct {
	TempDir string
}

// NewStdManipulator creates a manipulator writing into tempDir (os.TempDir()
// when empty).
func NewStdManipulator(tempDir string) *StdManipulator {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &StdManipulator{TempDir: tempDir}
}

// Manipulate implements ImageManipulator. With no actions and no base64
// requested it only reads the image header and returns the source as-is.
func (m *StdManipulator) Manipulate(ctx context.Context, uri string, actions []Action, opts SaveOptions) (*ManipulateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := PathFromURI(uri)

	if len(actions) == 0 && !opts.Base64 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		defer f.Close()

		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read image header: %w", err)
		}
		return &ManipulateResult{URI: uri, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case action.Crop != nil:
			img, err = cropImage(img, *action.Crop)
		case action.Resize != nil:
			img, err = resizeImage(img, *action.Resize)
		default:
			err = fmt.Errorf("empty action")
		}
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	ext := ".jpg"
	switch opts.Format {
	case FormatPNG:
		ext = ".png"
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: qualityFromCompress(opts.Compress)})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	if err := os.MkdirAll(m.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	outPath := filepath.Join(m.TempDir, TempFilePrefix+uuid.New().String()+ext)
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}

	bounds := img.Bounds()
	result := &ManipulateResult{
		URI:    "file://" + outPath,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	if opts.Base64 {
		result.Base64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return result, nil
}

// PathFromURI strips a file:// scheme.
func PathFromURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func cropImage(img image.Image, c CropAction) (image.Image, error) {
	b := img.Bounds()
	r := image.Rect(c.OriginX, c.OriginY, c.OriginX+c.Width, c.OriginY+c.Height).Add(b.Min)
	if c.Width <= 0 || c.Height <= 0 || !r.In(b) {
		return nil, fmt.Errorf("crop %v outside image bounds %v", r, b)
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

func resizeImage(img image.Image, r ResizeAction) (image.Image, error) {
	b := img.Bounds()
	w, h := r.Width, r.Height
	switch {
	case w <= 0 && h <= 0:
		return nil, fmt.Errorf("resize needs a width or height")
	case h <= 0:
		h = roundDiv(b.Dy()*w, b.Dx())
	case w <= 0:
		w = roundDiv(b.Dx()*h, b.Dy())
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

func roundDiv(a, b int) int {
	return (a + b/2) / b
}

func qualityFromCompress(c float64) int {
	if c <= 0 || c > 1 {
		return jpeg.DefaultQuality
	}
	q := int(c*100 + 0.5)
	if q < 1 {
		q = 1
	}
	return q
}
