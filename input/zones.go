package input

import "math"

// A Point is an active touch contact, in page pixels.
type Point struct {
	ID   int
	X, Y float64
}

// A Rect is an axis-aligned rectangle, in page pixels.
type Rect struct {
	X, Y, W, H float64
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// RectButton is a button occupying a rectangular page element.
type RectButton struct {
	Bounds Rect
	Button Button
}

// Dpad is a radial directional pad. A touch farther than the deadzone from
// its center presses one or two directions.
type Dpad struct {
	Bounds Rect
}

// FaceButton is a button of a Cluster, located by its center.
type FaceButton struct {
	Button Button
	X, Y   float64
}

// Cluster is a group of round buttons (A, B, X, Y). A touch in the cluster
// presses the nearest button, if it's within the pick radius.
type Cluster struct {
	Bounds  Rect
	Buttons []FaceButton
}

// Layout holds the hit zones of the page, as measured by the last layout
// pass.
type Layout struct {
	// Buttons are checked before other zones. When buttons overlap, the one
	// declared last is on top and wins.
	Buttons []RectButton

	Dpad    *Dpad
	Cluster *Cluster

	// Screen is the touch screen element.
	Screen Rect

	// PassThrough holds regions (HUD, menus, prompts) whose touches are left
	// to the page.
	PassThrough []Rect
}

// Logical size of the touch screen.
const (
	ScreenWidth  = 256
	ScreenHeight = 192
)

// direction angles in degrees, counter-clockwise from the right.
var dpadDirs = [...]struct {
	btn   Button
	angle float64
}{
	{Right, 0},
	{Up, 90},
	{Left, 180},
	{Down, -90},
}

// press sets the directions pressed by a touch at (x, y).
func (d *Dpad) press(x, y, deadzone, halfWidth float64, out *[NumButtons]bool) {
	cx, cy := d.Bounds.Center()
	dx, dy := x-cx, y-cy
	if math.Hypot(dx, dy) <= deadzone*min(d.Bounds.W, d.Bounds.H) {
		return
	}

	// Page y grows downward.
	angle := math.Atan2(-dy, dx) * 180 / math.Pi
	for _, dir := range dpadDirs {
		if angleDist(angle, dir.angle) < halfWidth {
			out[dir.btn] = true
		}
	}
}

// angleDist returns the absolute difference between 2 angles, in [0, 180].
func angleDist(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// nearest returns the button of c nearest to (x, y), if within radius.
func (c *Cluster) nearest(x, y, radius float64) (Button, bool) {
	best, bestDist := Button(0), math.Inf(1)
	for _, fb := range c.Buttons {
		if d := math.Hypot(x-fb.X, y-fb.Y); d < bestDist {
			best, bestDist = fb.Button, d
		}
	}
	return best, bestDist <= radius
}

// screenPos maps (x, y) to the logical screen space.
func screenPos(r Rect, x, y float64) (int, int) {
	sx := math.Floor((x - r.X) * ScreenWidth / r.W)
	sy := math.Floor((y - r.Y) * ScreenHeight / r.H)
	return int(max(0, min(sx, ScreenWidth-1))), int(max(0, min(sy, ScreenHeight-1)))
}
