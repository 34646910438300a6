package report

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const compositeGutter = 8

var compositeBackground = color.RGBA{R: 64, G: 64, B: 64, A: 255}

// Composite lays panels out left to right on a dark background. Nil panels
// are skipped. The result is scaled down to maxWidth when wider (0 = no limit).
func Composite(panels []image.Image, maxWidth int) *image.RGBA {
	var present []image.Image
	for _, p := range panels {
		if p != nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}

	width := compositeGutter
	height := 0
	for _, p := range present {
		b := p.Bounds()
		width += b.Dx() + compositeGutter
		height = max(height, b.Dy())
	}
	height += 2 * compositeGutter

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(compositeBackground), image.Point{}, draw.Src)

	x := compositeGutter
	for _, p := range present {
		b := p.Bounds()
		dst := image.Rect(x, compositeGutter, x+b.Dx(), compositeGutter+b.Dy())
		draw.Draw(canvas, dst, p, b.Min, draw.Over)
		x += b.Dx() + compositeGutter
	}

	if maxWidth <= 0 || width <= maxWidth {
		return canvas
	}

	scaledHeight := max(1, height*maxWidth/width)
	scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, scaledHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)
	return scaled
}
