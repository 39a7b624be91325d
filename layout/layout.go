// Package layout places the two DS screens in the page viewport.
package layout

import (
	"dsplay/input"
)

// Placement gives the on-page position of both screens.
type Placement struct {
	// Scale is the factor applied to the native 256x192 screens.
	Scale float64

	Top    input.Rect
	Bottom input.Rect
}

// SideBySide splits a w×h viewport in 2 halves and maximizes each screen in
// its half, keeping the native aspect ratio: the top screen is centered in
// the left half, the bottom (touch) screen in the right half.
func SideBySide(w, h float64) Placement {
	if w <= 0 || h <= 0 {
		return Placement{}
	}

	half := w / 2
	s := min(half/input.ScreenWidth, h/input.ScreenHeight)

	return Placement{
		Scale:  s,
		Top:    centered(half*0.5, h/2, s),
		Bottom: centered(half*1.5, h/2, s),
	}
}

// centered returns the bounds of a screen scaled by s, centered on (cx, cy).
func centered(cx, cy, s float64) input.Rect {
	sw, sh := input.ScreenWidth*s, input.ScreenHeight*s
	return input.Rect{X: cx - sw/2, Y: cy - sh/2, W: sw, H: sh}
}
