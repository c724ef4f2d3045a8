package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// This file carries the geometric SVG fallback used when no vector
// rasterizer can render a QR-code SVG. It understands exactly two
// primitives: <rect> elements, and <path> outlines restricted to the
// M/L/H/V/Z command subset. Path subpaths are filled as their axis-aligned
// bounding boxes, which is intentionally approximate but exact for the
// rectilinear geometry of QR symbols. It is not a general SVG renderer.

type viewBox struct {
	x, y, w, h float64
}

var viewBoxRe = regexp.MustCompile(`(?i)viewBox\s*=\s*"([^"]+)"`)

func parseViewBox(markup string) (viewBox, bool) {
	m := viewBoxRe.FindStringSubmatch(markup)
	if m == nil {
		return viewBox{}, false
	}
	parts := strings.Fields(strings.ReplaceAll(m[1], ",", " "))
	if len(parts) != 4 {
		return viewBox{}, false
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return viewBox{}, false
		}
		vals[i] = f
	}
	return viewBox{x: vals[0], y: vals[1], w: vals[2], h: vals[3]}, true
}

// RasterizeSVGFallback renders QR-style SVG markup onto a white square
// canvas of the given pixel size. Returns nil when the markup yields no
// drawable primitive.
func RasterizeSVGFallback(markup string, size int) image.Image {
	if size <= 0 {
		return nil
	}
	vb, ok := parseViewBox(markup)
	if !ok || vb.w <= 0 || vb.h <= 0 {
		vb = viewBox{x: 0, y: 0, w: 200, h: 200}
	}
	// Scale each axis independently; a non-square viewBox must not
	// distort uniformly.
	scaleX := float64(size) / vb.w
	scaleY := float64(size) / vb.h

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	drawn := 0
	rects := extractRects(markup)
	for _, r := range rects {
		if !isDarkFill(r.fill) {
			continue
		}
		fillRect(img,
			(r.x-vb.x)*scaleX, (r.y-vb.y)*scaleY,
			(r.x-vb.x+r.w)*scaleX, (r.y-vb.y+r.h)*scaleY)
		drawn++
	}

	if len(rects) == 0 {
		tf := ambientTransform(markup)
		for _, p := range extractPaths(markup) {
			if !isDarkFill(p.fill) {
				continue
			}
			for _, box := range pathSubpathBoxes(p.d) {
				x0, y0 := tf.apply(box.minX, box.minY)
				x1, y1 := tf.apply(box.maxX, box.maxY)
				fillRect(img,
					(x0-vb.x)*scaleX, (y0-vb.y)*scaleY,
					(x1-vb.x)*scaleX, (y1-vb.y)*scaleY)
				drawn++
			}
		}
	}

	if drawn == 0 {
		return nil
	}
	return img
}

// isDarkFill implements the "fill absent means dark module" rule: QR
// writers commonly omit fill on dark modules, and some emit fill="none".
func isDarkFill(fill string) bool {
	switch strings.ToLower(strings.TrimSpace(fill)) {
	case "", "none", "black", "#000", "#000000":
		return true
	case "white", "#fff", "#ffffff":
		return false
	}
	// Any other explicit color is treated as a dark module; QR SVGs only
	// ever distinguish dark from light.
	return true
}

type svgRect struct {
	x, y, w, h float64
	fill       string
}

var rectTagRe = regexp.MustCompile(`(?is)<rect\b[^>]*>`)

func extractRects(markup string) []svgRect {
	var out []svgRect
	for _, tag := range rectTagRe.FindAllString(markup, -1) {
		r := svgRect{
			x:    attrFloat(tag, "x"),
			y:    attrFloat(tag, "y"),
			w:    attrFloat(tag, "width"),
			h:    attrFloat(tag, "height"),
			fill: attrString(tag, "fill"),
		}
		if r.w <= 0 || r.h <= 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

type svgPath struct {
	d    string
	fill string
}

var pathTagRe = regexp.MustCompile(`(?is)<path\b[^>]*>`)

func extractPaths(markup string) []svgPath {
	var out []svgPath
	for _, tag := range pathTagRe.FindAllString(markup, -1) {
		d := attrString(tag, "d")
		if strings.TrimSpace(d) == "" {
			continue
		}
		out = append(out, svgPath{d: d, fill: attrString(tag, "fill")})
	}
	return out
}

func attrString(tag, name string) string {
	re := regexp.MustCompile(`(?i)\b` + name + `\s*=\s*"([^"]*)"`)
	if m := re.FindStringSubmatch(tag); m != nil {
		return m[1]
	}
	return ""
}

func attrFloat(tag, name string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(attrString(tag, name)), 64)
	if err != nil {
		return 0
	}
	return f
}

// transform carries the ambient scale()/translate() found on an ancestor
// <g>, as emitted by QR generators that draw in module units.
type transform struct {
	sx, sy, tx, ty float64
}

func (t transform) apply(x, y float64) (float64, float64) {
	return x*t.sx + t.tx, y*t.sy + t.ty
}

var (
	gTransformRe = regexp.MustCompile(`(?is)<g\b[^>]*\btransform\s*=\s*"([^"]*)"`)
	scaleRe      = regexp.MustCompile(`(?i)scale\(\s*([0-9.eE+-]+)(?:[\s,]+([0-9.eE+-]+))?\s*\)`)
	translateRe  = regexp.MustCompile(`(?i)translate\(\s*([0-9.eE+-]+)(?:[\s,]+([0-9.eE+-]+))?\s*\)`)
)

func ambientTransform(markup string) transform {
	tf := transform{sx: 1, sy: 1}
	m := gTransformRe.FindStringSubmatch(markup)
	if m == nil {
		return tf
	}
	if s := scaleRe.FindStringSubmatch(m[1]); s != nil {
		if f, err := strconv.ParseFloat(s[1], 64); err == nil {
			tf.sx, tf.sy = f, f
		}
		if s[2] != "" {
			if f, err := strconv.ParseFloat(s[2], 64); err == nil {
				tf.sy = f
			}
		}
	}
	if s := translateRe.FindStringSubmatch(m[1]); s != nil {
		if f, err := strconv.ParseFloat(s[1], 64); err == nil {
			tf.tx = f
		}
		if s[2] != "" {
			if f, err := strconv.ParseFloat(s[2], 64); err == nil {
				tf.ty = f
			}
		}
	}
	return tf
}

type boundingBox struct {
	minX, minY, maxX, maxY float64
}

// pathSubpathBoxes tokenizes a restricted path command subset (M, L, H, V,
// Z in either case; lowercase is relative) and returns the bounding box of
// each accumulated subpath polygon.
func pathSubpathBoxes(d string) []boundingBox {
	tokens := tokenizePath(d)
	var boxes []boundingBox
	var cur []struct{ x, y float64 }
	var x, y float64
	i := 0
	cmd := byte(0)

	flush := func() {
		if len(cur) == 0 {
			return
		}
		box := boundingBox{minX: math.Inf(1), minY: math.Inf(1), maxX: math.Inf(-1), maxY: math.Inf(-1)}
		for _, p := range cur {
			box.minX = math.Min(box.minX, p.x)
			box.minY = math.Min(box.minY, p.y)
			box.maxX = math.Max(box.maxX, p.x)
			box.maxY = math.Max(box.maxY, p.y)
		}
		if box.maxX > box.minX && box.maxY > box.minY {
			boxes = append(boxes, box)
		}
		cur = cur[:0]
	}

	num := func() (float64, bool) {
		if i >= len(tokens) {
			return 0, false
		}
		f, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return 0, false
		}
		i++
		return f, true
	}

	for i < len(tokens) {
		tok := tokens[i]
		if len(tok) == 1 && strings.ContainsAny(tok, "MmLlHhVvZz") {
			cmd = tok[0]
			i++
			if cmd == 'Z' || cmd == 'z' {
				flush()
				continue
			}
		} else if cmd == 0 {
			// Leading numbers without a command are unparseable; give up
			// on this path.
			return boxes
		}
		switch cmd {
		case 'M', 'L', 'm', 'l':
			fx, ok1 := num()
			fy, ok2 := num()
			if !ok1 || !ok2 {
				flush()
				return boxes
			}
			if cmd == 'm' || cmd == 'l' {
				fx += x
				fy += y
			}
			if cmd == 'M' || cmd == 'm' {
				flush()
				// Implicit lineto pairs follow a moveto.
				cmd -= 'M' - 'L'
			}
			x, y = fx, fy
			cur = append(cur, struct{ x, y float64 }{x, y})
		case 'H', 'h':
			fx, ok := num()
			if !ok {
				flush()
				return boxes
			}
			if cmd == 'h' {
				fx += x
			}
			x = fx
			cur = append(cur, struct{ x, y float64 }{x, y})
		case 'V', 'v':
			fy, ok := num()
			if !ok {
				flush()
				return boxes
			}
			if cmd == 'v' {
				fy += y
			}
			y = fy
			cur = append(cur, struct{ x, y float64 }{x, y})
		default:
			// Unsupported command (curves etc.); stop at what we have.
			flush()
			return boxes
		}
	}
	flush()
	return boxes
}

var pathTokenRe = regexp.MustCompile(`[MmLlHhVvZz]|-?[0-9.]+(?:[eE][+-]?[0-9]+)?`)

func tokenizePath(d string) []string {
	return pathTokenRe.FindAllString(d, -1)
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 float64) {
	b := img.Bounds()
	ix0 := int(math.Floor(x0))
	iy0 := int(math.Floor(y0))
	ix1 := int(math.Ceil(x1))
	iy1 := int(math.Ceil(y1))
	if ix0 < b.Min.X {
		ix0 = b.Min.X
	}
	if iy0 < b.Min.Y {
		iy0 = b.Min.Y
	}
	if ix1 > b.Max.X {
		ix1 = b.Max.X
	}
	if iy1 > b.Max.Y {
		iy1 = b.Max.Y
	}
	for yy := iy0; yy < iy1; yy++ {
		for xx := ix0; xx < ix1; xx++ {
			img.SetRGBA(xx, yy, color.RGBA{A: 255})
		}
	}
}
