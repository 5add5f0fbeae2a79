package crop

import "math"

// HitMetrics are the on-screen tolerances, in pixels, used by Classify.
type HitMetrics struct {
	// CornerOffset pushes each corner anchor outward, matching the corner
	// knobs drawn outside the crop border.
	CornerOffset float64
	// CornerRadius is the touch radius around each corner anchor.
	CornerRadius float64
	// EdgeTolerance is the half-height of the band around each edge.
	EdgeTolerance float64
	// MoveMargin insets the move zone from the crop border.
	MoveMargin float64
}

// DefaultHitMetrics matches the overlay drawn by the mobile client.
var DefaultHitMetrics = HitMetrics{
	CornerOffset:  14,
	CornerRadius:  20,
	EdgeTolerance: 20,
	MoveMargin:    30,
}

type cornerAnchor struct {
	x, y   float64
	handle Handle
}

// Classify resolves a touch point to a handle. Corners win over edges and
// edges win over the move zone. Among corners the nearest one inside the
// radius wins; exact ties go to the first of topLeft, topRight, bottomLeft,
// bottomRight.
func Classify(x, y float64, r Rect, l ImageLayout, m HitMetrics) Handle {
	if l.Width <= 0 || l.Height <= 0 {
		return HandleNone
	}

	cropX := l.X + r.X*l.Width
	cropY := l.Y + r.Y*l.Height
	cropW := r.Width * l.Width
	cropH := r.Height * l.Height

	corners := [4]cornerAnchor{
		{cropX - m.CornerOffset, cropY - m.CornerOffset, HandleTopLeft},
		{cropX + cropW + m.CornerOffset, cropY - m.CornerOffset, HandleTopRight},
		{cropX - m.CornerOffset, cropY + cropH + m.CornerOffset, HandleBottomLeft},
		{cropX + cropW + m.CornerOffset, cropY + cropH + m.CornerOffset, HandleBottomRight},
	}

	closest := HandleNone
	minDistance := math.Inf(1)
	for _, c := range corners {
		d := math.Hypot(x-c.x, y-c.y)
		if d <= m.CornerRadius && d < minDistance {
			closest = c.handle
			minDistance = d
		}
	}
	if closest != HandleNone {
		return closest
	}

	excl := m.CornerRadius * 1.5
	withinX := x > cropX+excl && x < cropX+cropW-excl
	withinY := y > cropY+excl && y < cropY+cropH-excl

	switch {
	case math.Abs(y-cropY) < m.EdgeTolerance && withinX:
		return HandleTopEdge
	case math.Abs(y-(cropY+cropH)) < m.EdgeTolerance && withinX:
		return HandleBottomEdge
	case math.Abs(x-cropX) < m.EdgeTolerance && withinY:
		return HandleLeftEdge
	case math.Abs(x-(cropX+cropW)) < m.EdgeTolerance && withinY:
		return HandleRightEdge
	}

	if x > cropX+m.MoveMargin && x < cropX+cropW-m.MoveMargin &&
		y > cropY+m.MoveMargin && y < cropY+cropH-m.MoveMargin {
		return HandleMove
	}

	return HandleNone
}
