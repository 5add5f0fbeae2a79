/**
 * Crop Interaction Controller
 *
 * Gesture handling as an explicit state machine: Transition is a pure
 * function from (Session, Event) to (Session, []Effect). Controller wraps it
 * for hosts that deliver events one at a time and want haptics dispatched.
 */

package crop

import "sync"

// State of a crop session.
type State int

const (
	StateIdle State = iota
	StateDragging
)

func (s State) String() string {
	if s == StateDragging {
		return "dragging"
	}
	return "idle"
}

// SmoothingFactor weights the new raw pointer position against the last
// smoothed one on every move event.
const SmoothingFactor = 0.9

// Intensity of a haptic pulse.
type Intensity string

const (
	HapticLight  Intensity = "light"
	HapticMedium Intensity = "medium"
	HapticHeavy  Intensity = "heavy"
)

// EventKind enumerates the inputs a session reacts to.
type EventKind int

const (
	EventPointerDown EventKind = iota
	EventPointerMove
	EventPointerUp
	EventPointerTerminate
	EventLayout
	EventReset
	EventAspectRatio
)

// Event is one input to the state machine. X/Y are screen coordinates for
// pointer events, Layout is read for EventLayout and Ratio for EventAspectRatio.
type Event struct {
	Kind   EventKind
	X, Y   float64
	Layout ImageLayout
	Ratio  float64
}

// Effect is a side effect requested by a transition.
type Effect interface {
	effect()
}

// HapticEffect asks the host to fire a haptic pulse.
type HapticEffect struct {
	Intensity Intensity
}

// RectChangedEffect reports the rectangle the renderer should draw.
type RectChangedEffect struct {
	Rect Rect
}

func (HapticEffect) effect()      {}
func (RectChangedEffect) effect() {}

// Session is the complete state of one crop editor.
type Session struct {
	Mode    Mode
	Rect    Rect
	Layout  ImageLayout
	Metrics HitMetrics
	State   State
	Active  Handle
	Last    Point
}

// NewSession starts an idle session with the default rectangle for mode.
func NewSession(mode Mode, layout ImageLayout) Session {
	return Session{
		Mode:    mode,
		Rect:    DefaultRect(mode),
		Layout:  layout,
		Metrics: DefaultHitMetrics,
		State:   StateIdle,
		Active:  HandleNone,
	}
}

// Transition applies ev to s.
func Transition(s Session, ev Event) (Session, []Effect) {
	switch ev.Kind {
	case EventPointerDown:
		if s.State == StateDragging {
			return s, nil
		}
		h := Classify(ev.X, ev.Y, s.Rect, s.Layout, s.Metrics)
		if h == HandleNone {
			return s, nil
		}
		s.State = StateDragging
		s.Active = h
		s.Last = Point{X: ev.X, Y: ev.Y}
		return s, []Effect{HapticEffect{Intensity: HapticMedium}}

	case EventPointerMove:
		if s.State != StateDragging || s.Active == HandleNone {
			return s, nil
		}
		smoothed := Point{
			X: s.Last.X + (ev.X-s.Last.X)*SmoothingFactor,
			Y: s.Last.Y + (ev.Y-s.Last.Y)*SmoothingFactor,
		}
		s.Last = smoothed

		relX, relY, ok := ToRelative(s.Layout, smoothed.X, smoothed.Y)
		if !ok {
			return s, nil
		}
		next := UpdateCropArea(s.Rect, s.Active, relX, relY)
		if next == s.Rect {
			return s, nil
		}
		s.Rect = next
		return s, []Effect{RectChangedEffect{Rect: next}}

	case EventPointerUp, EventPointerTerminate:
		if s.State != StateDragging {
			return s, nil
		}
		s.State = StateIdle
		s.Active = HandleNone
		return s, []Effect{HapticEffect{Intensity: HapticLight}}

	case EventLayout:
		s.Layout = ev.Layout
		return s, nil

	case EventReset:
		s.State = StateIdle
		s.Active = HandleNone
		s.Rect = DefaultRect(s.Mode)
		return s, []Effect{RectChangedEffect{Rect: s.Rect}}

	case EventAspectRatio:
		if s.State == StateDragging {
			return s, nil
		}
		next := ApplyAspectRatio(s.Rect, ev.Ratio)
		if next == s.Rect {
			return s, nil
		}
		s.Rect = next
		return s, []Effect{RectChangedEffect{Rect: next}}
	}

	return s, nil
}

// HapticSink receives fire-and-forget haptic pulses.
type HapticSink interface {
	Impact(Intensity)
}

// Controller owns one Session and applies events to it in arrival order.
type Controller struct {
	mu      sync.Mutex
	session Session
	haptics HapticSink
}

// NewController creates a controller. haptics may be nil.
func NewController(mode Mode, layout ImageLayout, haptics HapticSink) *Controller {
	return &Controller{
		session: NewSession(mode, layout),
		haptics: haptics,
	}
}

// Handle applies ev, dispatches haptic effects to the sink and returns all effects.
func (c *Controller) Handle(ev Event) []Effect {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, effects := Transition(c.session, ev)
	c.session = next

	if c.haptics != nil {
		for _, e := range effects {
			if h, ok := e.(HapticEffect); ok {
				c.haptics.Impact(h.Intensity)
			}
		}
	}
	return effects
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Rect returns the current crop rectangle.
func (c *Controller) Rect() Rect {
	return c.Session().Rect
}
