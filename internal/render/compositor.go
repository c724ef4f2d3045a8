package render

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
	qrcode "github.com/yeqown/go-qrcode/v2"
	"golang.org/x/image/draw"
)

// Compositor stamps a driver snapshot onto a template background and
// produces the carnet raster. The only hard failure is an unreadable
// background; every per-field problem is logged and skipped so a carnet
// with a missing photo or broken QR still comes out.
type Compositor struct {
	log    *logger.Logger
	fonts  *FontResolver
	images *ImageLoader
}

func NewCompositor(log *logger.Logger, fonts *FontResolver, images *ImageLoader) *Compositor {
	return &Compositor{
		log:    log.With("component", "Compositor"),
		fonts:  fonts,
		images: images,
	}
}

// Composite renders the carnet raster into scratchDir and returns its path
// together with the pixel dimensions of the produced image.
func (c *Compositor) Composite(data *domain.CarnetData, tpl *domain.CarnetTemplate, scratchDir string) (string, int, int, error) {
	fields, err := tpl.Fields()
	if err != nil {
		return "", 0, 0, fmt.Errorf("template %s: invalid field config: %w", tpl.ID, err)
	}

	bg := c.images.FromPath(tpl.BackgroundPath)
	if bg == nil {
		return "", 0, 0, fmt.Errorf("template %s: unreadable background %q", tpl.ID, tpl.BackgroundPath)
	}

	dc := gg.NewContextForImage(bg)
	w := dc.Width()
	h := dc.Height()

	for _, key := range domain.FieldKeys {
		style, ok := fields[key]
		if !ok || !style.Active {
			continue
		}
		c.renderField(dc, data, key, style, w)
	}

	outPath := filepath.Join(scratchDir, fmt.Sprintf("carnet_%s.png", data.Cedula))
	if err := dc.SavePNG(outPath); err != nil {
		return "", 0, 0, fmt.Errorf("save carnet raster: %w", err)
	}
	return outPath, w, h, nil
}

// renderField is a recovery boundary: whatever goes wrong inside a single
// field must not unwind past the composite.
func (c *Compositor) renderField(dc *gg.Context, data *domain.CarnetData, key domain.FieldKey, style domain.FieldStyle, canvasW int) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Field render panicked, skipping field", "field", string(key), "panic", r)
		}
	}()

	switch key.Kind() {
	case domain.FieldKindImage:
		switch key {
		case domain.FieldFoto:
			c.renderPhoto(dc, data, style)
		case domain.FieldQR:
			c.renderQR(dc, data, style)
		}
	default:
		c.renderText(dc, data.Values[key], key, style, canvasW)
	}
}

func (c *Compositor) renderPhoto(dc *gg.Context, data *domain.CarnetData, style domain.FieldStyle) {
	var img image.Image
	if strings.TrimSpace(data.PhotoData) != "" {
		img = c.images.FromInline(data.PhotoData)
	}
	if img == nil && strings.TrimSpace(data.PhotoPath) != "" {
		img = c.images.FromPath(data.PhotoPath)
	}
	if img == nil {
		c.log.Warn("Driver photo unavailable, skipping", "driverID", data.DriverID)
		return
	}
	dc.DrawImage(resampleSquare(img, int(style.Size)), int(style.X), int(style.Y))
}

func (c *Compositor) renderQR(dc *gg.Context, data *domain.CarnetData, style domain.FieldStyle) {
	if strings.TrimSpace(data.ProfileURL) == "" {
		c.log.Warn("No profile URL for QR, skipping", "driverID", data.DriverID)
		return
	}
	markup, err := encodeQRSVG(data.ProfileURL)
	if err != nil {
		c.log.Error("QR encode failed, skipping", "driverID", data.DriverID, "error", err)
		return
	}
	img := c.images.RasterizeQRSVG(markup, int(style.Size))
	if img == nil {
		c.log.Error("QR rasterization failed, skipping", "driverID", data.DriverID)
		return
	}
	dc.DrawImage(resampleSquare(img, int(style.Size)), int(style.X), int(style.Y))
}

func (c *Compositor) renderText(dc *gg.Context, value string, key domain.FieldKey, style domain.FieldStyle, canvasW int) {
	if strings.TrimSpace(value) == "" {
		return
	}

	r, g, b, err := parseHexRGB(style.Color)
	if err != nil {
		c.log.Warn("Invalid field color, using black", "field", string(key), "color", style.Color)
		r, g, b = 0, 0, 0
	}
	dc.SetColor(color.NRGBA{R: r, G: g, B: b, A: 255})

	size := style.FontSize
	if size <= 0 {
		size = 14
	}

	measured := false
	if path := c.fonts.Resolve(style.FontFamily, style.FontStyle); path != "" {
		if face, err := LoadFace(path, size); err == nil {
			dc.SetFontFace(face)
			measured = true
		} else {
			c.log.Warn("Font face load failed, using fallback", "field", string(key), "path", path, "error", err)
			dc.SetFontFace(FallbackFace())
		}
	} else {
		dc.SetFontFace(FallbackFace())
	}

	x := style.X
	if style.Centered {
		var tw float64
		if measured {
			tw, _ = dc.MeasureString(value)
		} else {
			// Fixed-width estimate when no scalable font was found.
			tw = float64(len(value)) * size * 0.6
		}
		x = (float64(canvasW) - tw) / 2
	}
	dc.DrawString(value, x, style.Y)
}

// resampleSquare scales an image into a size x size box with CatmullRom
// interpolation, matching how uploaded photos are normalized elsewhere.
func resampleSquare(img image.Image, size int) image.Image {
	if size <= 0 {
		size = 100
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func parseHexRGB(s string) (r, g, b uint8, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		s = s[1:]
	}
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("expected 6 hex chars")
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid hex")
	}
	return raw[0], raw[1], raw[2], nil
}

// encodeQRSVG renders content into QR SVG markup.
func encodeQRSVG(content string) (string, error) {
	qrc, err := qrcode.New(content)
	if err != nil {
		return "", fmt.Errorf("build qr code: %w", err)
	}
	w := &svgWriter{moduleSize: 10}
	if err := qrc.Save(w); err != nil {
		return "", fmt.Errorf("write qr svg: %w", err)
	}
	return w.buf.String(), nil
}

// svgWriter serializes a QR matrix as flat SVG markup: a white backdrop
// plus one black rect per dark module.
type svgWriter struct {
	buf        bytes.Buffer
	moduleSize int
}

func (w *svgWriter) Write(mat qrcode.Matrix) error {
	mod := w.moduleSize
	width := mat.Width() * mod
	height := mat.Height() * mod

	fmt.Fprintf(&w.buf,
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`,
		width, height, width, height)
	fmt.Fprintf(&w.buf, `<rect width="%d" height="%d" fill="white"/>`, width, height)

	mat.Iterate(qrcode.IterDirection_ROW, func(x int, y int, v qrcode.QRValue) {
		if !v.IsSet() {
			return
		}
		fmt.Fprintf(&w.buf,
			`<rect x="%d" y="%d" width="%d" height="%d" fill="black"/>`,
			x*mod, y*mod, mod, mod)
	})

	w.buf.WriteString(`</svg>`)
	return nil
}

func (w *svgWriter) Close() error { return nil }
