package crop

// Handle identifies which part of the crop overlay a drag is moving.
type Handle string

const (
	HandleNone        Handle = "none"
	HandleTopLeft     Handle = "topLeft"
	HandleTopRight    Handle = "topRight"
	HandleBottomLeft  Handle = "bottomLeft"
	HandleBottomRight Handle = "bottomRight"
	HandleTopEdge     Handle = "topEdge"
	HandleBottomEdge  Handle = "bottomEdge"
	HandleLeftEdge    Handle = "leftEdge"
	HandleRightEdge   Handle = "rightEdge"
	HandleMove        Handle = "move"
)

// UpdateCropArea moves the given handle of prev to the normalized point
// (relX, relY) and returns the resulting rectangle. The caller clamps the
// point into [0,1]; the result always satisfies the Normalize invariants.
func UpdateCropArea(prev Rect, h Handle, relX, relY float64) Rect {
	rx := round3(clamp(relX, 0, maxSize))
	ry := round3(clamp(relY, 0, maxSize))

	next := prev
	right := prev.X + prev.Width
	bottom := prev.Y + prev.Height

	switch h {
	case HandleTopLeft:
		nx := clamp(rx, 0, right-MinSize)
		ny := clamp(ry, 0, bottom-MinSize)
		next.Width = prev.Width + (prev.X - nx)
		next.Height = prev.Height + (prev.Y - ny)
		next.X = nx
		next.Y = ny

	case HandleTopRight:
		ny := clamp(ry, 0, bottom-MinSize)
		next.Width = clamp(rx-prev.X, MinSize, maxSize-prev.X)
		next.Height = prev.Height + (prev.Y - ny)
		next.Y = ny

	case HandleBottomLeft:
		nx := clamp(rx, 0, right-MinSize)
		next.Width = prev.Width + (prev.X - nx)
		next.Height = clamp(ry-prev.Y, MinSize, maxSize-prev.Y)
		next.X = nx

	case HandleBottomRight:
		next.Width = clamp(rx-prev.X, MinSize, maxSize-prev.X)
		next.Height = clamp(ry-prev.Y, MinSize, maxSize-prev.Y)

	case HandleTopEdge:
		ny := clamp(ry, 0, bottom-MinSize)
		next.Height = prev.Height + (prev.Y - ny)
		next.Y = ny

	case HandleBottomEdge:
		next.Height = clamp(ry-prev.Y, MinSize, maxSize-prev.Y)

	case HandleLeftEdge:
		nx := clamp(rx, 0, right-MinSize)
		next.Width = prev.Width + (prev.X - nx)
		next.X = nx

	case HandleRightEdge:
		next.Width = clamp(rx-prev.X, MinSize, maxSize-prev.X)

	case HandleMove:
		// Center follows the pointer. Computed from the pointer directly so
		// repeating the same point cannot drift.
		next.X = clamp(rx-prev.Width/2, 0, maxSize-prev.Width)
		next.Y = clamp(ry-prev.Height/2, 0, maxSize-prev.Height)
	}

	return Normalize(next)
}

// AspectRatio is a named crop preset. A zero Ratio means "keep the original".
type AspectRatio struct {
	Name  string
	Ratio float64
}

// AspectRatios are the presets offered by the crop screen.
var AspectRatios = []AspectRatio{
	{Name: "Original", Ratio: 0},
	{Name: "Square", Ratio: 1},
	{Name: "4:3", Ratio: 4.0 / 3.0},
	{Name: "16:9", Ratio: 16.0 / 9.0},
	{Name: "3:2", Ratio: 3.0 / 2.0},
}

// ApplyAspectRatio reshapes r to width/height == ratio around its current
// center. Landscape ratios keep the width, portrait and square keep the
// height. MinSize still wins over the ratio for very small rectangles.
func ApplyAspectRatio(r Rect, ratio float64) Rect {
	if ratio <= 0 {
		return r
	}

	centerX := r.X + r.Width/2
	centerY := r.Y + r.Height/2

	w, h := r.Width, r.Height
	if ratio > 1 {
		h = w / ratio
	} else {
		w = h * ratio
	}

	if w > maxSize {
		w = maxSize
		h = w / ratio
	}
	if h > maxSize {
		h = maxSize
		w = h * ratio
	}

	return Normalize(Rect{
		X:      clamp(centerX-w/2, 0, maxSize-w),
		Y:      clamp(centerY-h/2, 0, maxSize-h),
		Width:  w,
		Height: h,
	})
}
