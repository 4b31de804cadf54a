package capture

import (
	"bytes"
	"context"
	"image/color"
	"math"
	"strconv"
	"sync"
	"workflow-preview/core"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	defaultFontSize = 14
	maxOutputPixels = 64 << 20
)

// Options control how a container is turned into an image.
type Options struct {
	Padding int
	Scale   float64
	Format  core.Format
	Quality int
}

// OptionsFor takes the rasterization settings of a preview request.
func OptionsFor(req core.PreviewRequest) Options {
	return Options{
		Padding: req.Padding,
		Scale:   req.Scale,
		Format:  req.Format,
		Quality: req.Quality,
	}
}

var (
	fontOnce    sync.Once
	regularFont *truetype.Font
	fontErr     error
)

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		regularFont, fontErr = truetype.Parse(goregular.TTF)
	})
	return regularFont, fontErr
}

// Rasterize paints the clone held by c and encodes it. The capture area is the clone's
// box grown by opts.Padding on every side, rendered at opts.Scale. The background is
// transparent, except for JPEG which is flattened onto the theme's --background.
func Rasterize(ctx context.Context, c *Container, opts Options) ([]byte, error) {
	if c == nil || c.Root == nil {
		return nil, core.NewError(core.KindRasterization, "no element to rasterize")
	}
	if opts.Format == core.FormatWebP {
		return nil, core.NewError(core.KindRasterization, "webp encoding is not supported, use png or jpeg")
	}
	if opts.Format != core.FormatPNG && opts.Format != core.FormatJPEG {
		return nil, core.NewError(core.KindRasterization, "unsupported image format %q", opts.Format)
	}
	if opts.Scale <= 0 || opts.Padding < 0 {
		return nil, core.NewError(core.KindRasterization, "invalid scale %g or padding %d", opts.Scale, opts.Padding)
	}

	root := c.Root
	if root.Box.W <= 0 || root.Box.H <= 0 {
		return nil, core.NewError(core.KindRasterization, "element has no size (%gx%g)", root.Box.W, root.Box.H)
	}

	pad := float64(opts.Padding)
	fw := math.Ceil((root.Box.W + 2*pad) * opts.Scale)
	fh := math.Ceil((root.Box.H + 2*pad) * opts.Scale)
	if !finitePositive(fw) || !finitePositive(fh) || fw*fh > maxOutputPixels {
		return nil, core.NewError(core.KindValidation, "output of %gx%g exceeds the pixel limit", fw, fh)
	}
	width, height := int(fw), int(fh)

	ttf, err := loadFont()
	if err != nil {
		return nil, core.WrapError(core.KindRasterization, err, "failed to load font")
	}

	dc := gg.NewContext(width, height)
	if opts.Format == core.FormatJPEG {
		bg, err := resolveColor("var(--background, white)", c.Vars)
		if err != nil || bg.A == 0 {
			bg = namedColors["white"]
		}
		dc.SetColor(bg)
		dc.Clear()
	}
	dc.Scale(opts.Scale, opts.Scale)
	dc.Translate(pad-root.Box.X, pad-root.Box.Y)

	p := &painter{ctx: ctx, dc: dc, font: ttf, faces: map[float64]font.Face{}}
	if err := p.paint(root, c.Vars); err != nil {
		return nil, core.WrapError(core.KindRasterization, err, "failed to paint %s preview", c.Theme)
	}

	var buf bytes.Buffer
	switch opts.Format {
	case core.FormatJPEG:
		quality := opts.Quality
		if quality <= 0 {
			quality = core.DefaultQuality
		}
		err = imaging.Encode(&buf, dc.Image(), imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		err = imaging.Encode(&buf, dc.Image(), imaging.PNG)
	}
	if err != nil {
		return nil, core.WrapError(core.KindRasterization, err, "failed to encode %s preview", c.Theme)
	}
	if buf.Len() == 0 {
		return nil, core.NewError(core.KindRasterization, "encoder produced an empty %s image", c.Theme)
	}

	logrus.WithFields(logrus.Fields{
		"theme":  c.Theme,
		"format": opts.Format,
		"width":  width,
		"height": height,
		"size":   buf.Len(),
	}).Debug("Container rasterized")
	return buf.Bytes(), nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

type painter struct {
	ctx   context.Context
	dc    *gg.Context
	font  *truetype.Font
	faces map[float64]font.Face
}

func (p *painter) paint(n *Node, vars map[string]string) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	if n.Style["display"] == "none" {
		return nil
	}
	vars = scopeVars(n, vars)

	if n.Style["visibility"] != "hidden" {
		if n.Tag == "line" {
			p.paintLine(n, vars)
		} else {
			p.paintBox(n, vars)
			p.paintText(n, vars)
		}
	}

	for _, child := range n.Children {
		if err := p.paint(child, vars); err != nil {
			return err
		}
	}
	return nil
}

// scopeVars overlays custom properties declared on n.
func scopeVars(n *Node, vars map[string]string) map[string]string {
	var scoped map[string]string
	for prop, v := range n.Style {
		if len(prop) < 3 || prop[:2] != "--" {
			continue
		}
		if scoped == nil {
			scoped = make(map[string]string, len(vars)+1)
			for k, val := range vars {
				scoped[k] = val
			}
		}
		scoped[prop] = v
	}
	if scoped == nil {
		return vars
	}
	return scoped
}

// styleColor resolves the first declared property of props. Values that do not resolve
// are skipped, as a browser ignores invalid declarations.
func (p *painter) styleColor(n *Node, vars map[string]string, props ...string) (color.NRGBA, bool) {
	for _, prop := range props {
		v, ok := n.Style[prop]
		if !ok {
			continue
		}
		c, err := resolveColor(v, vars)
		if err != nil {
			logrus.WithFields(logrus.Fields{"property": prop, "value": v}).WithError(err).Debug("Ignoring unresolved color")
			continue
		}
		return c, c.A > 0
	}
	return color.NRGBA{}, false
}

func (p *painter) paintBox(n *Node, vars map[string]string) {
	b := n.Box
	if b.W <= 0 || b.H <= 0 {
		return
	}
	radius := parseLength(n.Style["border-radius"])

	if bg, ok := p.styleColor(n, vars, "background-color", "background"); ok {
		p.dc.SetColor(bg)
		p.rect(b, radius)
		p.dc.Fill()
	}

	borderWidth := parseLength(n.Style["border-width"])
	if borderWidth <= 0 {
		return
	}
	if bc, ok := p.styleColor(n, vars, "border-color"); ok {
		inset := borderWidth / 2
		p.dc.SetColor(bc)
		p.dc.SetLineWidth(borderWidth)
		p.rect(Box{X: b.X + inset, Y: b.Y + inset, W: b.W - borderWidth, H: b.H - borderWidth}, math.Max(0, radius-inset))
		p.dc.Stroke()
	}
}

func (p *painter) rect(b Box, radius float64) {
	if radius > 0 {
		p.dc.DrawRoundedRectangle(b.X, b.Y, b.W, b.H, radius)
		return
	}
	p.dc.DrawRectangle(b.X, b.Y, b.W, b.H)
}

func (p *painter) paintText(n *Node, vars map[string]string) {
	if n.Text == "" {
		return
	}
	fg, ok := p.styleColor(n, vars, "color")
	if !ok {
		if _, declared := n.Style["color"]; declared {
			return
		}
		fg, _ = resolveColor("var(--foreground, black)", vars)
	}

	size := parseLength(n.Style["font-size"])
	if size <= 0 {
		size = defaultFontSize
	}
	p.dc.SetFontFace(p.face(size))
	p.dc.SetColor(fg)

	b := n.Box
	y := b.Y + b.H/2
	switch n.Style["text-align"] {
	case "center":
		p.dc.DrawStringAnchored(n.Text, b.X+b.W/2, y, 0.5, 0.35)
	case "right":
		p.dc.DrawStringAnchored(n.Text, b.X+b.W-parseLength(n.Style["padding-right"]), y, 1, 0.35)
	default:
		p.dc.DrawStringAnchored(n.Text, b.X+parseLength(n.Style["padding-left"]), y, 0, 0.35)
	}
}

func (p *painter) face(size float64) font.Face {
	if f, ok := p.faces[size]; ok {
		return f
	}
	f := truetype.NewFace(p.font, &truetype.Options{Size: size, Hinting: font.HintingFull})
	p.faces[size] = f
	return f
}

func (p *painter) paintLine(n *Node, vars map[string]string) {
	stroke, ok := p.styleColor(n, vars, "stroke", "color")
	if !ok {
		return
	}
	width := parseLength(n.Style["stroke-width"])
	if width <= 0 {
		width = 1
	}
	x1, y1 := attrFloat(n, "x1"), attrFloat(n, "y1")
	x2, y2 := attrFloat(n, "x2"), attrFloat(n, "y2")

	p.dc.SetColor(stroke)
	p.dc.SetLineWidth(width)
	p.dc.DrawLine(x1, y1, x2, y2)
	p.dc.Stroke()
}

func attrFloat(n *Node, name string) float64 {
	f, err := strconv.ParseFloat(n.Attrs[name], 64)
	if err != nil {
		return 0
	}
	return f
}
