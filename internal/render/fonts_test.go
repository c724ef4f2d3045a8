package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/villatrans/carnet-backend/internal/data/repos/testutil"
)

func TestNormalizeStyle(t *testing.T) {
	cases := map[string]string{
		"":            "regular",
		"normal":      "regular",
		"Bold":        "bold",
		"ITALIC":      "italic",
		"oblique":     "italic",
		"bold italic": "bold italic",
		"Italic Bold": "bold italic",
		"extravagant": "regular",
	}
	for in, want := range cases {
		if got := NormalizeStyle(in); got != want {
			t.Fatalf("NormalizeStyle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveFindsAppFont(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arial.ttf")
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write stub font: %v", err)
	}

	fr := NewFontResolver(dir, testutil.Logger(t))
	if got := fr.Resolve("Arial", "normal"); got != path {
		t.Fatalf("Resolve = %q, want %q", got, path)
	}
}

func TestResolveFallsBackToRegularCut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verdana.ttf")
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write stub font: %v", err)
	}

	// Bold cut is absent; the same family's regular cut must win before
	// any arial-like fallback.
	fr := NewFontResolver(dir, testutil.Logger(t))
	if got := fr.Resolve("Verdana", "bold"); got != path {
		t.Fatalf("Resolve = %q, want regular cut %q", got, path)
	}
}

func TestResolveUnknownFamilyUsesArialLikeFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "DejaVuSans.ttf")
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write stub font: %v", err)
	}

	fr := NewFontResolver(dir, testutil.Logger(t))
	got := fr.Resolve("Comic Signature", "bold")
	if got == "" {
		t.Fatalf("expected a fallback font, got none")
	}
	// A host with real fonts installed may resolve an earlier fallback
	// candidate from a system directory; any existing file is fine.
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("Resolve returned a non-existent path %q", got)
	}
	_ = path
}

func TestResolveNeverErrorsOnTotalMiss(t *testing.T) {
	fr := NewFontResolver(t.TempDir(), testutil.Logger(t))
	if got := fr.Resolve("Wingdings", "bold italic"); got != "" {
		// A host with fonts installed system-wide may legitimately
		// resolve the arial-like fallback.
		if _, err := os.Stat(got); err != nil {
			t.Fatalf("Resolve returned a non-existent path %q", got)
		}
	}
}

func TestCasingVariants(t *testing.T) {
	variants := casingVariants("Arial.TTF")
	want := map[string]bool{"Arial.TTF": true, "arial.ttf": true, "ARIAL.ttf": true}
	for v := range want {
		found := false
		for _, got := range variants {
			if got == v {
				found = true
			}
		}
		if !found {
			t.Fatalf("casingVariants missing %q in %v", v, variants)
		}
	}
}

func TestFallbackFaceAlwaysAvailable(t *testing.T) {
	if FallbackFace() == nil {
		t.Fatalf("fallback face must never be nil")
	}
}
