/**
 * Crop rectangle model
 *
 * Rectangles are normalized to the image bounds (0..1 on both axes) so they
 * survive any on-screen scaling and map onto the source pixels only at
 * transcode time.
 */

package crop

import (
	"fmt"
	"math"

	scanerrors "github.com/adverant/nexus/docscan-worker/internal/errors"
)

// MinSize is the smallest normalized width or height a crop may shrink to.
const MinSize = 0.1

const maxSize = 1.0

// Mode selects the default rectangle for a crop session.
type Mode string

const (
	// ModePreview is the document-scan entry point (tight margins).
	ModePreview Mode = "preview"
	// ModeCrop is the standalone crop screen.
	ModeCrop Mode = "crop"
)

// Rect is a crop region relative to the image bounds.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ImageLayout is the on-screen pixel box the image is rendered into.
type ImageLayout struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a screen-space coordinate.
type Point struct {
	X float64
	Y float64
}

// DefaultRect returns the centered starting rectangle for mode.
func DefaultRect(mode Mode) Rect {
	if mode == ModeCrop {
		return Rect{X: 0.1, Y: 0.1, Width: 0.8, Height: 0.8}
	}
	return Rect{X: 0.05, Y: 0.05, Width: 0.9, Height: 0.9}
}

func (r Rect) String() string {
	return fmt.Sprintf("{x=%.3f y=%.3f w=%.3f h=%.3f}", r.X, r.Y, r.Width, r.Height)
}

// Normalize enforces the rectangle invariants: x,y >= 0, x+w <= 1, y+h <= 1
// and w,h >= MinSize. It is applied after every geometry update.
func Normalize(r Rect) Rect {
	w := clamp(nanTo(r.Width, MinSize), MinSize, maxSize)
	h := clamp(nanTo(r.Height, MinSize), MinSize, maxSize)
	return Rect{
		X:      clamp(nanTo(r.X, 0), 0, maxSize-w),
		Y:      clamp(nanTo(r.Y, 0), 0, maxSize-h),
		Width:  w,
		Height: h,
	}
}

// Validate reports an InvalidCropGeometry error when r breaks an invariant.
// Rectangles produced by this package never do; Validate guards rectangles
// that arrive from outside (job payloads).
func Validate(r Rect) error {
	const eps = 1e-9
	ok := !math.IsNaN(r.X) && !math.IsNaN(r.Y) && !math.IsNaN(r.Width) && !math.IsNaN(r.Height) &&
		r.X >= -eps && r.Y >= -eps &&
		r.X+r.Width <= maxSize+eps && r.Y+r.Height <= maxSize+eps &&
		r.Width >= MinSize-eps && r.Height >= MinSize-eps
	if !ok {
		return scanerrors.NewInvalidCropGeometryError(r.X, r.Y, r.Width, r.Height)
	}
	return nil
}

// ToRelative clamps a screen point to the layout box and converts it to
// normalized image coordinates. It returns false when the layout has no area yet.
func ToRelative(l ImageLayout, x, y float64) (float64, float64, bool) {
	if l.Width <= 0 || l.Height <= 0 {
		return 0, 0, false
	}
	cx := clamp(x, l.X, l.X+l.Width)
	cy := clamp(y, l.Y, l.Y+l.Height)
	return (cx - l.X) / l.Width, (cy - l.Y) / l.Height, true
}

// clamp returns v limited to [lo, hi]; lo wins when hi < lo.
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func nanTo(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
