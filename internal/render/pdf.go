package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

// Carnet rasters are produced at 300 DPI, so physical page size follows
// directly from pixel dimensions.
const mmPerInch = 25.4

// PageSizeForPixels converts pixel dimensions at 300 DPI to millimeters.
func PageSizeForPixels(w, h int) (float64, float64) {
	return float64(w) / rasterDPI * mmPerInch, float64(h) / rasterDPI * mmPerInch
}

// DocumentConverter turns a carnet raster into a single-page PDF whose page
// matches the image's physical size exactly, full bleed with zero margin.
type DocumentConverter struct {
	log *logger.Logger
}

func NewDocumentConverter(log *logger.Logger) *DocumentConverter {
	return &DocumentConverter{log: log.With("component", "DocumentConverter")}
}

// ToPDF writes the PDF next to the raster (same base name, .pdf extension)
// and returns its path. Errors surface to the caller; the caller decides
// whether to fall back to serving the raw raster.
func (c *DocumentConverter) ToPDF(rasterPath string, pxWidth, pxHeight int) (string, error) {
	if pxWidth <= 0 || pxHeight <= 0 {
		return "", fmt.Errorf("invalid raster dimensions %dx%d", pxWidth, pxHeight)
	}
	if _, err := os.Stat(rasterPath); err != nil {
		return "", fmt.Errorf("raster not readable: %w", err)
	}

	wMM, hMM := PageSizeForPixels(pxWidth, pxHeight)

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: wMM, Ht: hMM},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	imageType := strings.ToUpper(strings.TrimPrefix(filepath.Ext(rasterPath), "."))
	if imageType == "JPG" {
		imageType = "JPEG"
	}
	pdf.ImageOptions(rasterPath, 0, 0, wMM, hMM, false,
		gofpdf.ImageOptions{ImageType: imageType, ReadDpi: false}, 0, "")

	outPath := strings.TrimSuffix(rasterPath, filepath.Ext(rasterPath)) + ".pdf"
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	c.log.Debug("Converted raster to PDF", "raster", rasterPath, "pdf", outPath)
	return outPath, nil
}
