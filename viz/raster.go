package viz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/kwv/ndtscan/ndt"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	backgroundColor = color.RGBA{240, 240, 240, 255}
	peakColor       = color.RGBA{0, 0, 139, 255}
	legendColor     = color.RGBA{0, 0, 0, 255}
	scanColor       = color.RGBA{220, 20, 60, 255}
)

const maxImageSize = 4000

// FieldRenderer rasterizes the summed likelihood of the valid cells of a
// layer, which is the surface the matcher descends. Scan points, if any,
// are marked on top.
type FieldRenderer struct {
	Layer          ndt.LayerData
	Scan           []ndt.Point
	PixelsPerMeter float64
	Padding        int // Padding in pixels
	Legend         bool

	scale    float64 // pixels per meter of the image being rendered
	inverses []ndt.Covariance
	cells    []ndt.CellData
}

// NewFieldRenderer returns a renderer at 100 pixels per meter
func NewFieldRenderer(layer ndt.LayerData) *FieldRenderer {
	return &FieldRenderer{
		Layer:          layer,
		PixelsPerMeter: 100,
		Padding:        20,
		Legend:         true,
	}
}

// Render draws the field. Darker pixels are more likely.
func (r *FieldRenderer) Render() (*image.RGBA, error) {
	r.cells = r.cells[:0]
	r.inverses = r.inverses[:0]
	for _, c := range r.Layer.ValidCells() {
		inv, ok := c.Covariance.Inverse()
		if !ok {
			continue
		}
		r.cells = append(r.cells, c)
		r.inverses = append(r.inverses, inv)
	}
	if len(r.cells) == 0 {
		return nil, ErrEmpty
	}

	b := r.Layer.Bounds
	r.scale = r.PixelsPerMeter
	width := int((b.Max[0]-b.Min[0])*r.scale) + 2*r.Padding
	height := int((b.Max[1]-b.Min[1])*r.scale) + 2*r.Padding

	// Limit size
	if width > maxImageSize || height > maxImageSize {
		r.scale *= float64(maxImageSize) / float64(max(width, height))
		width = int((b.Max[0]-b.Min[0])*r.scale) + 2*r.Padding
		height = int((b.Max[1]-b.Min[1])*r.scale) + 2*r.Padding
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := math.Min(r.FieldAt(r.toWorld(x, y, height)), 1)
			img.SetRGBA(x, y, lerpColor(backgroundColor, peakColor, v))
		}
	}

	for _, p := range r.Scan {
		x, y := r.toImage(p, height)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if image.Pt(x+dx, y+dy).In(img.Rect) {
					img.SetRGBA(x+dx, y+dy, scanColor)
				}
			}
		}
	}

	if r.Legend {
		drawText(img, 8, 16, fmt.Sprintf("layer %d", r.Layer.Layer), legendColor)
		drawText(img, 8, 30, fmt.Sprintf("cell %.3fm, %d cells", r.Layer.CellSize, len(r.cells)), legendColor)
	}
	return img, nil
}

// FieldAt sums the unnormalized likelihood of p over the cells near it
func (r *FieldRenderer) FieldAt(p ndt.Point) float64 {
	reach := 3 * r.Layer.CellSize
	var sum float64
	for i, c := range r.cells {
		dx, dy := p.X-c.Mean.X, p.Y-c.Mean.Y
		if math.Abs(dx) > reach || math.Abs(dy) > reach {
			continue
		}
		inv := r.inverses[i]
		q := dx*(inv.XX*dx+inv.XY*dy) + dy*(inv.XY*dx+inv.YY*dy)
		sum += math.Exp(-0.5 * q)
	}
	return sum
}

// toWorld maps the center of pixel (x, y) to world coordinates with +y up
func (r *FieldRenderer) toWorld(x, y, height int) ndt.Point {
	b := r.Layer.Bounds
	return ndt.Point{
		X: b.Min[0] + (float64(x-r.Padding)+0.5)/r.scale,
		Y: b.Min[1] + (float64(height-1-y-r.Padding)+0.5)/r.scale,
	}
}

// toImage maps a world point to the pixel containing it
func (r *FieldRenderer) toImage(p ndt.Point, height int) (int, int) {
	b := r.Layer.Bounds
	x := int(math.Floor((p.X-b.Min[0])*r.scale)) + r.Padding
	y := height - 1 - r.Padding - int(math.Floor((p.Y-b.Min[1])*r.scale))
	return x, y
}

// Encode renders the field as PNG to w
func (r *FieldRenderer) Encode(w io.Writer) error {
	img, err := r.Render()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG renders the field to a file
func (r *FieldRenderer) SavePNG(path string) error {
	img, err := r.Render()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

func lerpColor(from, to color.RGBA, t float64) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.RGBA{mix(from.R, to.R), mix(from.G, to.G), mix(from.B, to.B), 255}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
