package models

import (
	"fmt"
	"image"
	"math"
)

// Rect is an axis-aligned rectangle in CSS pixels, relative to the document
// origin unless stated otherwise.
type Rect struct {
	X      float64 `json:"x" toml:"x" yaml:"x"`
	Y      float64 `json:"y" toml:"y" yaml:"y"`
	Width  float64 `json:"width" toml:"width" yaml:"width"`
	Height float64 `json:"height" toml:"height" yaml:"height"`
}

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Area returns the covered area, zero for empty rectangles.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Translate shifts the rectangle by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Scale multiplies every coordinate by f (CSS pixels to device pixels).
func (r Rect) Scale(f float64) Rect {
	return Rect{X: r.X * f, Y: r.Y * f, Width: r.Width * f, Height: r.Height * f}
}

// Intersect returns the overlap of r and o; the result is Empty when they do
// not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.Width, o.X+o.Width)
	y1 := min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Pixels converts the rectangle to integer pixel bounds, rounding outward so
// that partially covered pixels are included.
func (r Rect) Pixels() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.Width)),
		int(math.Ceil(r.Y+r.Height)),
	)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %gx%g)", r.X, r.Y, r.Width, r.Height)
}

// Viewport describes the emulated browser window.
type Viewport struct {
	Width             int     `json:"width" toml:"width" yaml:"width" validate:"gte=0"`
	Height            int     `json:"height" toml:"height" yaml:"height" validate:"gte=0"`
	DeviceScaleFactor float64 `json:"device_scale_factor" toml:"device_scale_factor" yaml:"device_scale_factor" validate:"gte=0"`
	Mobile            bool    `json:"mobile" toml:"mobile" yaml:"mobile"`
}

// Scale returns the device scale factor, defaulting to 1.
func (v Viewport) Scale() float64 {
	if v.DeviceScaleFactor <= 0 {
		return 1
	}
	return v.DeviceScaleFactor
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d@%gx", v.Width, v.Height, v.Scale())
}
