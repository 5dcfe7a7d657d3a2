package scanning

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var markColor = color.NRGBA{R: 255, A: 255}

// Annotate returns a copy of img with every region outlined in red and its
// confidence printed above it. img is not modified.
func Annotate(img image.Image, regions []Region) *image.NRGBA {
	out := imaging.Clone(img)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(markColor),
		Face: face,
	}

	for _, r := range regions {
		if len(r.Polygon) == 0 {
			continue
		}
		for i := range r.Polygon {
			drawLine(out, r.Polygon[i], r.Polygon[(i+1)%len(r.Polygon)], markColor)
		}

		top := topLeft(r.Polygon)
		y := max(top.Y-2, face.Ascent)
		d.Dot = fixed.P(top.X, y)
		d.DrawString(fmt.Sprintf("%.2f", r.Confidence))
	}
	return out
}

func topLeft(poly []image.Point) image.Point {
	p := poly[0]
	for _, q := range poly[1:] {
		p.X = min(p.X, q.X)
		p.Y = min(p.Y, q.Y)
	}
	return p
}

// drawLine is Bresenham's algorithm; points outside dst are skipped.
func drawLine(dst draw.Image, a, b image.Point, c color.Color) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	bounds := dst.Bounds()
	e := dx + dy
	for {
		if a.In(bounds) {
			dst.Set(a.X, a.Y, c)
		}
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
