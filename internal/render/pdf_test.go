package render

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/villatrans/carnet-backend/internal/data/repos/testutil"
)

func TestPageSizeForPixels(t *testing.T) {
	w, h := PageSizeForPixels(300, 600)
	if math.Abs(w-25.4) > 0.001 {
		t.Fatalf("300px at 300 DPI should be 25.4mm, got %v", w)
	}
	if math.Abs(h-50.8) > 0.001 {
		t.Fatalf("600px at 300 DPI should be 50.8mm, got %v", h)
	}

	w, h = PageSizeForPixels(1050, 650)
	if math.Abs(w-1050.0/300.0*25.4) > 0.001 || math.Abs(h-650.0/300.0*25.4) > 0.001 {
		t.Fatalf("unexpected page size %vx%v", w, h)
	}
}

func TestToPDFProducesDocument(t *testing.T) {
	dir := t.TempDir()
	raster := testutil.WriteBackgroundPNG(t, dir, 400, 300)

	conv := NewDocumentConverter(testutil.Logger(t))
	pdfPath, err := conv.ToPDF(raster, 400, 300)
	if err != nil {
		t.Fatalf("ToPDF: %v", err)
	}
	if !strings.HasSuffix(pdfPath, ".pdf") {
		t.Fatalf("expected .pdf output, got %q", pdfPath)
	}
	raw, err := os.ReadFile(pdfPath)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		t.Fatalf("output does not start with %%PDF")
	}
}

func TestToPDFRejectsMissingRaster(t *testing.T) {
	conv := NewDocumentConverter(testutil.Logger(t))
	if _, err := conv.ToPDF(filepath.Join(t.TempDir(), "missing.png"), 400, 300); err == nil {
		t.Fatalf("expected error for missing raster")
	}
}

func TestToPDFRejectsBadDimensions(t *testing.T) {
	dir := t.TempDir()
	raster := testutil.WriteBackgroundPNG(t, dir, 10, 10)

	conv := NewDocumentConverter(testutil.Logger(t))
	if _, err := conv.ToPDF(raster, 0, 10); err == nil {
		t.Fatalf("expected error for zero width")
	}
}
