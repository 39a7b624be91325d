// Package input converts touch points and keyboard keys into the DS button
// and touch screen state.
package input

import (
	"fmt"
	"sync"

	"dsplay/config"
	"dsplay/log"
)

// State is the input state as read by the emulator on each frame.
type State struct {
	Buttons [NumButtons]bool

	// Touched reports whether the touch screen is pressed, at (X, Y) in
	// logical screen space.
	Touched bool
	X, Y    int
}

// Pressed returns the pressed buttons, in canonical order.
func (s State) Pressed() []Button {
	var btns []Button
	for b, down := range s.Buttons {
		if down {
			btns = append(btns, Button(b))
		}
	}
	return btns
}

// A Transition is a button press or release.
type Transition struct {
	Button  Button
	Pressed bool
}

// Diff returns the button transitions from prev to s.
func (s State) Diff(prev State) []Transition {
	var trs []Transition
	for b := range NumButtons {
		if s.Buttons[b] != prev.Buttons[b] {
			trs = append(trs, Transition{Button: b, Pressed: s.Buttons[b]})
		}
	}
	return trs
}

// Frame is the outcome of an input event.
type Frame struct {
	State       State
	Transitions []Transition

	// PreventDefault reports whether the page must suppress the default
	// behaviour (scroll, zoom) of the event.
	PreventDefault bool
}

// A Mapper maps touch points and keys to input state. Touch and keyboard
// states are computed separately and merged. A Mapper is safe for concurrent
// use.
type Mapper struct {
	deadzone   float64
	halfWidth  float64
	pickRadius float64
	keymap     map[string]Button

	mu     sync.Mutex
	layout Layout
	touch  State
	keys   map[string]bool
	state  State // last state made visible
}

// NewMapper returns a Mapper configured by cfg. Keys of cfg.Keys are page
// key codes (e.g. "ArrowUp", "KeyZ"), values are button names.
func NewMapper(cfg config.InputConfig) (*Mapper, error) {
	keymap := make(map[string]Button, len(cfg.Keys))
	for code, name := range cfg.Keys {
		btn, ok := ButtonByName(name)
		if !ok {
			return nil, fmt.Errorf("key %s: unrecognized button %q", code, name)
		}
		keymap[code] = btn
	}

	// Sectors must not overlap past the diagonal, 3 directions could be
	// pressed at once.
	overlap := max(0, min(cfg.DiagonalOverlap, 44))

	return &Mapper{
		deadzone:   cfg.Deadzone,
		halfWidth:  45 + overlap,
		pickRadius: cfg.PickRadius,
		keymap:     keymap,
		keys:       make(map[string]bool),
	}, nil
}

// SetLayout replaces the hit zones.
func (m *Mapper) SetLayout(l Layout) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.layout = l
	log.ModInput.DebugZ("layout updated").
		Int("buttons", len(l.Buttons)).
		Bool("dpad", l.Dpad != nil).
		Bool("cluster", l.Cluster != nil).
		Int("passthrough", len(l.PassThrough)).
		End()
}

// Map processes the full list of active touch points. The touch state is
// recomputed from scratch: buttons absent from the new set are released.
func (m *Mapper) Map(points []Point) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		touch   State
		prevent bool
	)
	for _, p := range points {
		if m.classify(p, &touch) {
			prevent = true
		}
	}
	m.touch = touch

	f := m.commit()
	f.PreventDefault = prevent
	return f
}

// Key processes a key press or release. Unmapped keys are ignored and
// left to the page.
func (m *Mapper) Key(code string, down bool) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keymap[code]; !ok {
		return Frame{State: m.state}
	}
	if down {
		m.keys[code] = true
	} else {
		delete(m.keys, code)
	}

	f := m.commit()
	f.PreventDefault = true
	return f
}

// State returns the last visible state.
func (m *Mapper) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset releases all buttons and keys.
func (m *Mapper) Reset() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch = State{}
	clear(m.keys)
	return m.commit()
}

// commit merges touch and key states and makes the result visible.
func (m *Mapper) commit() Frame {
	next := m.touch
	for code := range m.keys {
		next.Buttons[m.keymap[code]] = true
	}

	f := Frame{State: next, Transitions: next.Diff(m.state)}
	m.state = next
	return f
}

// classify checks p against the zones in order, updating st with the
// effect of the first matching zone. It reports whether p landed on a
// control surface.
func (m *Mapper) classify(p Point, st *State) bool {
	l := &m.layout
	for _, r := range l.PassThrough {
		if r.Contains(p.X, p.Y) {
			return false
		}
	}

	for i := len(l.Buttons) - 1; i >= 0; i-- {
		if l.Buttons[i].Bounds.Contains(p.X, p.Y) {
			st.Buttons[l.Buttons[i].Button] = true
			return true
		}
	}

	if l.Dpad != nil && l.Dpad.Bounds.Contains(p.X, p.Y) {
		l.Dpad.press(p.X, p.Y, m.deadzone, m.halfWidth, &st.Buttons)
		return true
	}

	if l.Cluster != nil && l.Cluster.Bounds.Contains(p.X, p.Y) {
		if btn, ok := l.Cluster.nearest(p.X, p.Y, m.pickRadius); ok {
			st.Buttons[btn] = true
		}
		return true
	}

	if !l.Screen.Empty() && l.Screen.Contains(p.X, p.Y) {
		// When several points touch the screen, the last one wins.
		st.Touched = true
		st.X, st.Y = screenPos(l.Screen, p.X, p.Y)
		return true
	}
	return false
}
