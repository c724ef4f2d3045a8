package render

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/villatrans/carnet-backend/internal/data/repos/testutil"
	"github.com/villatrans/carnet-backend/internal/domain"
)

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()
	log := testutil.Logger(t)
	return NewCompositor(log, NewFontResolver(t.TempDir(), log), NewImageLoader(log))
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open raster: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode raster: %v", err)
	}
	return img
}

func template(t *testing.T, backgroundPath, fieldConfig string) *domain.CarnetTemplate {
	t.Helper()
	tpl := &domain.CarnetTemplate{
		ID:             uuid.New(),
		Name:           "test",
		BackgroundPath: backgroundPath,
		FieldConfig:    datatypes.JSON([]byte(fieldConfig)),
		Active:         true,
	}
	if _, err := tpl.Fields(); err != nil {
		t.Fatalf("template config invalid: %v", err)
	}
	return tpl
}

func TestCompositeDrawsTextField(t *testing.T) {
	dir := t.TempDir()
	bg := testutil.WriteBackgroundPNG(t, dir, 400, 300)
	tpl := template(t, bg, `{"cedula": {"active": true, "x": 100, "y": 100, "font_size": 14, "color": "#000000"}}`)

	data := domain.SnapshotDriver(&domain.Driver{
		ID:        uuid.New(),
		FirstName: "Juan",
		LastName:  "Perez",
		Cedula:    "1234567890",
	}, "")

	c := newTestCompositor(t)
	out, w, h, err := c.Composite(&data, tpl, dir)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if w != 400 || h != 300 {
		t.Fatalf("expected background dimensions 400x300, got %dx%d", w, h)
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty raster at %q", out)
	}

	img := decodePNG(t, out)
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 300 {
		t.Fatalf("raster size mismatch: %v", img.Bounds())
	}
	// The cedula string must have darkened pixels near (100,100); the
	// background fixture is a uniform light color.
	dark := 0
	for y := 85; y < 105; y++ {
		for x := 95; x < 220; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r < 0x8000 && g < 0x8000 && b < 0x8000 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Fatalf("expected drawn text pixels near the configured position")
	}
}

func TestCompositeSurvivesMissingPhotoAndQR(t *testing.T) {
	dir := t.TempDir()
	bg := testutil.WriteBackgroundPNG(t, dir, 400, 300)
	tpl := template(t, bg, `{
		"foto": {"active": true, "x": 20, "y": 20, "size": 100},
		"qr": {"active": true, "x": 260, "y": 20, "size": 100},
		"nombre_completo": {"active": true, "x": 0, "y": 260, "font_size": 16, "centered": true}
	}`)

	// No photo, no profile URL: both image fields must skip silently.
	data := domain.SnapshotDriver(&domain.Driver{
		ID:        uuid.New(),
		FirstName: "Ana",
		LastName:  "Mora",
		Cedula:    "0999999999",
	}, "")

	c := newTestCompositor(t)
	out, _, _, err := c.Composite(&data, tpl, dir)
	if err != nil {
		t.Fatalf("Composite with missing photo/QR should succeed: %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty raster")
	}
}

func TestCompositeRendersQRFromProfileURL(t *testing.T) {
	dir := t.TempDir()
	bg := testutil.WriteBackgroundPNG(t, dir, 400, 300)
	tpl := template(t, bg, `{"qr": {"active": true, "x": 20, "y": 20, "size": 150}}`)

	data := domain.SnapshotDriver(&domain.Driver{
		ID:     uuid.New(),
		Cedula: "0911111111",
	}, "https://example.org/conductores/abc")

	c := newTestCompositor(t)
	out, _, _, err := c.Composite(&data, tpl, dir)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}

	img := decodePNG(t, out)
	// A rendered QR symbol leaves a substantial number of dark modules in
	// the configured region.
	dark := 0
	for y := 20; y < 170; y++ {
		for x := 20; x < 170; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r < 0x4000 && g < 0x4000 && b < 0x4000 {
				dark++
			}
		}
	}
	if dark < 500 {
		t.Fatalf("expected QR modules in the target region, found %d dark pixels", dark)
	}
}

func TestCompositeFailsOnUnreadableBackground(t *testing.T) {
	dir := t.TempDir()
	tpl := template(t, filepath.Join(dir, "missing.png"), `{}`)

	data := domain.SnapshotDriver(&domain.Driver{ID: uuid.New(), Cedula: "1"}, "")

	c := newTestCompositor(t)
	if _, _, _, err := c.Composite(&data, tpl, dir); err == nil {
		t.Fatalf("unreadable background must fail the composite")
	}
}

func TestEncodeQRSVGShape(t *testing.T) {
	markup, err := encodeQRSVG("https://example.org/x")
	if err != nil {
		t.Fatalf("encodeQRSVG: %v", err)
	}
	if _, ok := parseViewBox(markup); !ok {
		t.Fatalf("QR markup should carry a viewBox")
	}
	if len(extractRects(markup)) < 10 {
		t.Fatalf("QR markup should contain module rects")
	}
}
