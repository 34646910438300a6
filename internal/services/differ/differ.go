// Package differ compares a baseline bitmap against a fresh capture.
package differ

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/ternarybob/vista/internal/models"
)

// MaxDelta is the largest possible YIQ colour distance between two pixels.
const MaxDelta = 35215.0

// DimensionMismatchError is returned when baseline and capture sizes differ.
// No percentage is defined in that case.
type DimensionMismatchError struct {
	Baseline image.Point
	Capture  image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: baseline %dx%d, capture %dx%d",
		e.Baseline.X, e.Baseline.Y, e.Capture.X, e.Capture.Y)
}

// Result holds the raw comparison numbers before any policy is applied.
type Result struct {
	Matched              bool        // DifferingPixels == 0
	DifferingPixels      int         // Pixels whose distance exceeds the threshold
	ComparablePixels     int         // width*height minus masked pixels
	MaskedPixels         int         // Pixels covered by at least one mask
	DifferencePercentage float64     // DifferingPixels / ComparablePixels, 0 when nothing is comparable
	Diff                 *image.RGBA // Only set when DifferingPixels > 0
}

var (
	diffColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	maskColor = color.RGBA{R: 255, G: 230, B: 0, A: 255}
)

// Compare counts the pixels outside masks whose perceptual distance exceeds
// threshold. threshold is clamped to [0,1]; 0 requires identical pixels.
func Compare(baseline, capture image.Image, masks []models.Rect, threshold float64) (*Result, error) {
	if baseline == nil || capture == nil {
		return nil, fmt.Errorf("compare requires both baseline and capture")
	}

	bb, cb := baseline.Bounds(), capture.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return nil, &DimensionMismatchError{Baseline: bb.Size(), Capture: cb.Size()}
	}

	base := toRGBA(baseline)
	actual := toRGBA(capture)
	width, height := bb.Dx(), bb.Dy()

	masked := maskGrid(width, height, masks)
	cutoff := MaxDelta * clamp(threshold) * clamp(threshold)

	result := &Result{}
	var differing []int

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if masked != nil && masked[idx] {
				result.MaskedPixels++
				continue
			}
			i := base.PixOffset(x, y)
			j := actual.PixOffset(x, y)
			if samePixel(base.Pix[i:i+4], actual.Pix[j:j+4]) {
				continue
			}
			if colorDelta(base.Pix[i:i+4], actual.Pix[j:j+4]) > cutoff {
				differing = append(differing, idx)
			}
		}
	}

	result.DifferingPixels = len(differing)
	result.ComparablePixels = width*height - result.MaskedPixels
	if result.ComparablePixels > 0 {
		result.DifferencePercentage = float64(result.DifferingPixels) / float64(result.ComparablePixels)
	}
	result.Matched = result.DifferingPixels == 0

	if result.DifferingPixels > 0 {
		result.Diff = renderDiff(base, width, height, masked, differing)
	}

	return result, nil
}

// toRGBA returns img as an *image.RGBA anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// maskGrid returns nil when no mask intersects the image.
func maskGrid(width, height int, masks []models.Rect) []bool {
	bounds := image.Rect(0, 0, width, height)
	var grid []bool
	for _, m := range masks {
		r := m.Pixels().Intersect(bounds)
		if r.Empty() {
			continue
		}
		if grid == nil {
			grid = make([]bool, width*height)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := y * width
			for x := r.Min.X; x < r.Max.X; x++ {
				grid[row+x] = true
			}
		}
	}
	return grid
}

func renderDiff(base *image.RGBA, width, height int, masked []bool, differing []int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if masked != nil && masked[idx] {
				out.SetRGBA(x, y, maskColor)
				continue
			}
			i := base.PixOffset(x, y)
			p := base.Pix[i : i+4]
			gray := blend(rgb2y(float64(p[0]), float64(p[1]), float64(p[2])), float64(p[3])/255)
			// Fade towards white so highlights stand out
			v := uint8(255 + (gray-255)*0.1)
			out.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	for _, idx := range differing {
		out.SetRGBA(idx%width, idx/width, diffColor)
	}
	return out
}

func samePixel(a, b []uint8) bool {
	return a[0] == b[0] && a[1] == b[1] && a[2] == b[2] && a[3] == b[3]
}

// colorDelta is the squared YIQ distance between two RGBA pixels, each
// alpha-blended over white first.
func colorDelta(a, b []uint8) float64 {
	r1, g1, b1 := blendPixel(a)
	r2, g2, b2 := blendPixel(b)

	y := rgb2y(r1, g1, b1) - rgb2y(r2, g2, b2)
	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	return 0.5053*y*y + 0.299*i*i + 0.1957*q*q
}

func blendPixel(p []uint8) (float64, float64, float64) {
	r, g, b := float64(p[0]), float64(p[1]), float64(p[2])
	if p[3] == 255 {
		return r, g, b
	}
	a := float64(p[3]) / 255
	return blend(r, a), blend(g, a), blend(b, a)
}

func blend(c, a float64) float64 {
	return 255 + (c-255)*a
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

func clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
