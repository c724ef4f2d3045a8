package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

const (
	rasterDPI        = 300
	svgCSSDPI        = 96
	defaultSVGWidth  = 800
	defaultSVGHeight = 600
)

// ImageLoader decodes raster and vector sources. Every entry point is
// non-throwing: failures are logged and reported as a nil image so a bad
// photo or QR never takes down a whole carnet.
type ImageLoader struct {
	log *logger.Logger
}

func NewImageLoader(baseLog *logger.Logger) *ImageLoader {
	return &ImageLoader{log: baseLog.With("component", "ImageLoader")}
}

// FromPath decodes an image file, routing SVG sources through the vector
// loader. Returns nil when the file is missing or undecodable.
func (l *ImageLoader) FromPath(path string) image.Image {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		l.log.Warn("Could not read image file", "path", path, "error", err)
		return nil
	}
	if isSVG(path, raw) {
		return l.FromSVG(string(raw))
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		l.log.Warn("Could not decode image file", "path", path, "error", err)
		return nil
	}
	return img
}

var dataURIRe = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

// FromInline decodes an inline-encoded photo. Both data-URI payloads and
// bare base64 are accepted; anything malformed yields nil.
func (l *ImageLoader) FromInline(encoded string) image.Image {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil
	}
	if m := dataURIRe.FindString(encoded); m != "" {
		encoded = encoded[len(m):]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		l.log.Warn("Inline photo is not valid base64", "error", err)
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		l.log.Warn("Inline photo did not decode as an image", "error", err)
		return nil
	}
	return img
}

// FromSVG rasterizes SVG markup at 300 DPI over a white background. When
// the vector rasterizer cannot handle the markup the result degrades to a
// blank transparent canvas sized from the document's declared dimensions;
// callers that need the actual content must go through RasterizeQRSVG.
func (l *ImageLoader) FromSVG(markup string) image.Image {
	markup = SanitizeSVG(markup)
	if img := l.rasterizeVector(markup, 0); img != nil {
		return img
	}
	w, h := svgDeclaredSize(markup)
	l.log.Warn("Vector rasterizer unavailable for SVG, returning blank canvas", "width", w, "height", h)
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// RasterizeQRSVG renders a QR-code SVG into a square raster of the given
// size, preferring the high-fidelity vector path and falling back to the
// rect/path extractor in svgfallback.go.
func (l *ImageLoader) RasterizeQRSVG(markup string, size int) image.Image {
	if size <= 0 {
		return nil
	}
	markup = SanitizeSVG(markup)
	if img := l.rasterizeVector(markup, size); img != nil {
		return img
	}
	l.log.Debug("Falling back to geometric SVG rasterizer", "size", size)
	return RasterizeSVGFallback(markup, size)
}

// rasterizeVector drives oksvg/rasterx. target forces a square output;
// target<=0 sizes the canvas from the viewBox at 300 DPI. A nil return
// means the vector path could not render this markup.
func (l *ImageLoader) rasterizeVector(markup string, target int) (out image.Image) {
	defer func() {
		// oksvg panics on some malformed path data; treat that the same
		// as a decode error.
		if r := recover(); r != nil {
			l.log.Warn("Vector rasterizer panicked", "panic", fmt.Sprint(r))
			out = nil
		}
	}()

	icon, err := oksvg.ReadIconStream(strings.NewReader(markup), oksvg.WarnErrorMode)
	if err != nil {
		l.log.Debug("oksvg could not parse markup", "error", err)
		return nil
	}

	var w, h int
	if target > 0 {
		w, h = target, target
	} else {
		vbW, vbH := icon.ViewBox.W, icon.ViewBox.H
		if vbW <= 0 || vbH <= 0 {
			dw, dh := svgDeclaredSize(markup)
			vbW, vbH = float64(dw), float64(dh)
		}
		scale := float64(rasterDPI) / float64(svgCSSDPI)
		w = int(vbW * scale)
		h = int(vbH * scale)
	}
	if w <= 0 || h <= 0 {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return img
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	eventAttrRe   = regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
	jsHrefRe      = regexp.MustCompile(`(?i)(xlink:href|href)\s*=\s*("javascript:[^"]*"|'javascript:[^']*')`)
	foreignRe     = regexp.MustCompile(`(?is)<foreignObject.*?</foreignObject>`)
)

// SanitizeSVG strips scripting and embedding constructs before markup is
// handed to any rasterizer.
func SanitizeSVG(markup string) string {
	markup = scriptBlockRe.ReplaceAllString(markup, "")
	markup = foreignRe.ReplaceAllString(markup, "")
	markup = eventAttrRe.ReplaceAllString(markup, "")
	markup = jsHrefRe.ReplaceAllString(markup, "")
	return markup
}

var (
	widthAttrRe  = regexp.MustCompile(`(?i)<svg[^>]*\swidth\s*=\s*"([0-9.]+)(?:px)?"`)
	heightAttrRe = regexp.MustCompile(`(?i)<svg[^>]*\sheight\s*=\s*"([0-9.]+)(?:px)?"`)
)

// svgDeclaredSize reads the document's viewBox or width/height attributes,
// defaulting to 800x600 when neither is usable.
func svgDeclaredSize(markup string) (int, int) {
	if vb, ok := parseViewBox(markup); ok && vb.w > 0 && vb.h > 0 {
		return int(vb.w), int(vb.h)
	}
	w, h := 0, 0
	if m := widthAttrRe.FindStringSubmatch(markup); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			w = int(f)
		}
	}
	if m := heightAttrRe.FindStringSubmatch(markup); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			h = int(f)
		}
	}
	if w > 0 && h > 0 {
		return w, h
	}
	return defaultSVGWidth, defaultSVGHeight
}

func isSVG(path string, raw []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		return true
	}
	head := strings.TrimSpace(string(raw[:min(len(raw), 256)]))
	return strings.HasPrefix(head, "<svg") || strings.HasPrefix(head, "<?xml")
}
