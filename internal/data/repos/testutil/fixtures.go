package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/villatrans/carnet-backend/internal/domain"
)

func SeedDriver(tb testing.TB, ctx context.Context, tx *gorm.DB, cedula string) *domain.Driver {
	tb.Helper()
	d := &domain.Driver{
		ID:        uuid.New(),
		FirstName: "Pedro",
		LastName:  "Gomez",
		Cedula:    cedula,
		Category:  "C1",
		BloodType: "O+",
		Status:    "activo",
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed driver: %v", err)
	}
	return d
}

func SeedTemplate(tb testing.TB, ctx context.Context, tx *gorm.DB, backgroundPath string, fieldConfig string, active bool) *domain.CarnetTemplate {
	tb.Helper()
	if fieldConfig == "" {
		fieldConfig = "{}"
	}
	tpl := &domain.CarnetTemplate{
		ID:             uuid.New(),
		Name:           "fixture template",
		BackgroundPath: backgroundPath,
		FieldConfig:    datatypes.JSON([]byte(fieldConfig)),
		Active:         active,
	}
	if err := tx.WithContext(ctx).Create(tpl).Error; err != nil {
		tb.Fatalf("seed template: %v", err)
	}
	return tpl
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, total int) *domain.GenerationSession {
	tb.Helper()
	s := &domain.GenerationSession{
		ID:     uuid.New(),
		Token:  uuid.NewString(),
		Kind:   domain.SessionKindBatch,
		Status: domain.SessionStatusProcessing,
		Total:  total,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

// WriteBackgroundPNG drops a solid-color PNG into dir and returns its path.
// Used as a stand-in template background.
func WriteBackgroundPNG(tb testing.TB, dir string, w, h int) string {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 230, G: 236, B: 245, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode background png: %v", err)
	}
	path := filepath.Join(dir, "background.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		tb.Fatalf("write background png: %v", err)
	}
	return path
}
