package crop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 400x400 layout with the crop at pixels 100..300 on both axes.
var (
	testLayout = ImageLayout{X: 0, Y: 0, Width: 400, Height: 400}
	testRect   = Rect{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5}
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		x, y float64
		want Handle
	}{
		{"top left anchor", 86, 86, HandleTopLeft},
		{"top right anchor", 314, 86, HandleTopRight},
		{"bottom left anchor", 86, 314, HandleBottomLeft},
		{"bottom right anchor", 314, 314, HandleBottomRight},
		{"near top left border", 100, 100, HandleTopLeft},
		{"top edge", 200, 105, HandleTopEdge},
		{"bottom edge", 200, 290, HandleBottomEdge},
		{"left edge", 95, 200, HandleLeftEdge},
		{"right edge", 310, 200, HandleRightEdge},
		{"center moves", 200, 200, HandleMove},
		{"inside move margin", 200, 125, HandleNone},
		{"edge band near corner excluded", 120, 100, HandleNone},
		{"outside", 10, 10, HandleNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.x, tc.y, testRect, testLayout, DefaultHitMetrics))
		})
	}
}

func TestClassify_CornerBeatsEdge(t *testing.T) {
	// Pull the corner anchors inward so the corner radius overlaps the
	// top edge band outside the exclusion zone.
	m := DefaultHitMetrics
	m.CornerOffset = -25

	// (135,110) is 18px from the top-left anchor at (125,125) and inside the
	// top edge band (|110-100| < 20, 135 > 100+30).
	assert.Equal(t, HandleTopLeft, Classify(135, 110, testRect, testLayout, m))
}

func TestClassify_NearestCornerWins(t *testing.T) {
	m := DefaultHitMetrics
	m.CornerOffset = 0
	// 40x40px crop at (200,200): all four anchors are within reach of the middle.
	r := Rect{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1}

	assert.Equal(t, HandleTopRight, Classify(235, 203, r, testLayout, m))
	assert.Equal(t, HandleBottomLeft, Classify(203, 236, r, testLayout, m))
}

func TestClassify_EquidistantCornersResolveInFixedOrder(t *testing.T) {
	m := DefaultHitMetrics
	m.CornerOffset = 0
	r := Rect{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1}

	// Exactly 20px from both top anchors.
	assert.Equal(t, HandleTopLeft, Classify(220, 200, r, testLayout, m))
	// Center of the box: 28.3px from all four.
	m.CornerRadius = 30
	assert.Equal(t, HandleTopLeft, Classify(220, 220, r, testLayout, m))
}

func TestClassify_NoLayout(t *testing.T) {
	assert.Equal(t, HandleNone, Classify(0, 0, testRect, ImageLayout{}, DefaultHitMetrics))
}
