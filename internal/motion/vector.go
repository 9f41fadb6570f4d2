// Package motion turns pointer and slider input into rate-limited PTZ commands.
//
// Input only ever records the latest intent in a single pending slot; a ticker
// flushes that slot to the device. The command rate is therefore bounded by the
// tick interval no matter how fast pointer events arrive.
package motion

import "math"

// intensityRange is the drag distance, in pixels, at which swipe feedback saturates.
const intensityRange = 400.0

// MaxAxis bounds each command axis. Real drags stay far below it.
const MaxAxis = 100000

// Point is a pointer position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is a raw displacement with its normalized direction and length.
type Vector struct {
	X, Y       float64
	DirX, DirY float64
	Magnitude  float64
}

// Direction computes anchor - current. A zero-length (or non-finite)
// displacement yields the zero vector rather than NaN components.
func Direction(anchor, current Point) Vector {
	v := Vector{X: anchor.X - current.X, Y: anchor.Y - current.Y}
	mag := math.Hypot(v.X, v.Y)
	if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
		return Vector{}
	}
	v.Magnitude = mag
	v.DirX = v.X / mag
	v.DirY = v.Y / mag
	return v
}

// Command scales the vector by speed and rounds each axis into
// [-MaxAxis, MaxAxis].
func (v Vector) Command(speed float64) Command {
	return Command{
		Pan:  axis(v.DirX * v.Magnitude * speed),
		Tilt: axis(v.DirY * v.Magnitude * speed),
	}
}

func axis(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Max(-MaxAxis, math.Min(MaxAxis, math.Round(f))))
}

// Intensity is the drag strength in [0,1], used for swipe feedback.
func (v Vector) Intensity() float64 {
	return math.Min(v.Magnitude/intensityRange, 1)
}

// Command is a continuous pan/tilt velocity.
type Command struct {
	Pan  int
	Tilt int
}

func (c Command) inverted(x, y bool) Command {
	if x {
		c.Pan = -c.Pan
	}
	if y {
		c.Tilt = -c.Tilt
	}
	return c
}
