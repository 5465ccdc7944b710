package viz

import (
	"errors"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/kwv/ndtscan/ndt"
	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// ErrEmpty is returned when there is nothing to draw
var ErrEmpty = errors.New("nothing to render")

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// Palette holds the colors used by the renderers
type Palette struct {
	Ellipse color.NRGBA
	Outline color.NRGBA
	Scan    color.NRGBA
	Pose    color.NRGBA
}

// DefaultPalette draws distributions in blue and the scan in red
func DefaultPalette() Palette {
	return Palette{
		Ellipse: color.NRGBA{100, 149, 237, 120}, // Cornflower blue
		Outline: color.NRGBA{0, 0, 139, 255},     // Dark blue
		Scan:    color.NRGBA{220, 20, 60, 255},   // Crimson
		Pose:    color.NRGBA{0, 128, 0, 255},     // Green
	}
}

// LayerRenderer draws the distributions of one layer as sigma ellipses,
// optionally overlaid with a scan and a sensor pose.
type LayerRenderer struct {
	Layer       ndt.LayerData
	Scan        []ndt.Point
	Pose        *ndt.Pose
	Sigma       float64           // Ellipse size in standard deviations
	Scale       float64           // Canvas millimeters per meter
	Padding     float64           // Padding in meters
	Resolution  canvas.Resolution // Resolution for PNG output
	GridSpacing float64           // Grid line spacing in meters; 0 disables
	Colors      Palette
}

// NewLayerRenderer creates a renderer with a grid at the layer's cell size
func NewLayerRenderer(layer ndt.LayerData) *LayerRenderer {
	return &LayerRenderer{
		Layer:       layer,
		Sigma:       2,
		Scale:       50,
		Padding:     0.25,
		Resolution:  canvas.DPI(150),
		GridSpacing: layer.CellSize,
		Colors:      DefaultPalette(),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the layer as an SVG to the provided writer
func (r *LayerRenderer) RenderToSVG(w io.Writer) error {
	bound, ok := r.worldBounds()
	if !ok {
		return ErrEmpty
	}
	width, height := r.canvasSize(bound)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, bound, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the layer as a PNG to the provided writer
func (r *LayerRenderer) RenderToPNG(w io.Writer) error {
	bound, ok := r.worldBounds()
	if !ok {
		return ErrEmpty
	}
	width, height := r.canvasSize(bound)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, bound, width, height)
	return png.Encode(w, rast)
}

func (r *LayerRenderer) canvasSize(b orb.Bound) (float64, float64) {
	width := (b.Max[0]-b.Min[0])*r.Scale + 2*r.Padding*r.Scale
	height := (b.Max[1]-b.Min[1])*r.Scale + 2*r.Padding*r.Scale
	return width, height
}

// worldBounds covers the valid cells, the scan and the pose
func (r *LayerRenderer) worldBounds() (orb.Bound, bool) {
	var b orb.Bound
	seen := false
	extend := func(p orb.Point) {
		if !seen {
			b = orb.Bound{Min: p, Max: p}
			seen = true
			return
		}
		b = b.Extend(p)
	}

	for _, c := range r.Layer.ValidCells() {
		for _, p := range ndt.SigmaEllipse(c.Mean, c.Covariance, r.Sigma, 16) {
			extend(p)
		}
	}
	for _, p := range r.Scan {
		extend(orb.Point{p.X, p.Y})
	}
	if r.Pose != nil {
		extend(orb.Point{r.Pose.X, r.Pose.Y})
	}
	return b, seen
}

func (r *LayerRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x-b.Min[0]+r.Padding)*r.Scale, (y-b.Min[1]+r.Padding)*r.Scale
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.3
		gridStyle.Dashes = []float64{1.5, 1.5}

		origin := r.Layer.Bounds.Min
		start := func(lo, o float64) float64 {
			return o + math.Floor((lo-o)/r.GridSpacing)*r.GridSpacing
		}
		for x := start(b.Min[0], origin[0]); x <= b.Max[0]; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(x, b.Min[1])
			x2, y2 := toCanvas(x, b.Max[1])
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := start(b.Min[1], origin[1]); y <= b.Max[1]; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(b.Min[0], y)
			x2, y2 := toCanvas(b.Max[0], y)
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	ellipseStyle := canvas.DefaultStyle
	ellipseStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Ellipse)}
	ellipseStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Outline)}
	ellipseStyle.StrokeWidth = 0.4

	for _, c := range r.Layer.ValidCells() {
		ring := ndt.SigmaEllipse(c.Mean, c.Covariance, r.Sigma, 32)
		cp := &canvas.Path{}
		for i, p := range ring {
			cx, cy := toCanvas(p[0], p[1])
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		cp.Close()
		renderer.RenderPath(cp, ellipseStyle, canvas.Identity)
	}

	scanStyle := canvas.DefaultStyle
	scanStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Scan)}
	scanStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range r.Scan {
		cx, cy := toCanvas(p.X, p.Y)
		renderer.RenderPath(canvas.Circle(0.5).Translate(cx, cy), scanStyle, canvas.Identity)
	}

	if r.Pose != nil {
		poseColor := nrgbaToRGBA(r.Colors.Pose)
		cx, cy := toCanvas(r.Pose.X, r.Pose.Y)

		poseStyle := canvas.DefaultStyle
		poseStyle.Fill = canvas.Paint{Color: poseColor}
		poseStyle.Stroke = canvas.Paint{Color: canvas.Black}
		poseStyle.StrokeWidth = 0.3
		renderer.RenderPath(canvas.Circle(2).Translate(cx, cy), poseStyle, canvas.Identity)

		// Heading
		dirStyle := canvas.DefaultStyle
		dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		dirStyle.Stroke = canvas.Paint{Color: poseColor}
		dirStyle.StrokeWidth = 0.8

		dirLen := 5.0
		dirPath := &canvas.Path{}
		dirPath.MoveTo(cx, cy)
		dirPath.LineTo(cx+dirLen*math.Cos(r.Pose.Theta), cy+dirLen*math.Sin(r.Pose.Theta))
		renderer.RenderPath(dirPath, dirStyle, canvas.Identity)
	}
}
