package render

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

// styleBuckets are the four canonical font styles a template may request.
const (
	styleRegular    = "regular"
	styleBold       = "bold"
	styleItalic     = "italic"
	styleBoldItalic = "bold italic"
)

// familyFiles maps a known font family to its per-style filenames. Families
// outside this table never resolve; callers degrade to the built-in bitmap
// face instead of failing a carnet.
var familyFiles = map[string]map[string]string{
	"arial": {
		styleRegular:    "arial.ttf",
		styleBold:       "arialbd.ttf",
		styleItalic:     "ariali.ttf",
		styleBoldItalic: "arialbi.ttf",
	},
	"times new roman": {
		styleRegular:    "times.ttf",
		styleBold:       "timesbd.ttf",
		styleItalic:     "timesi.ttf",
		styleBoldItalic: "timesbi.ttf",
	},
	"courier new": {
		styleRegular:    "cour.ttf",
		styleBold:       "courbd.ttf",
		styleItalic:     "couri.ttf",
		styleBoldItalic: "courbi.ttf",
	},
	"verdana": {
		styleRegular:    "verdana.ttf",
		styleBold:       "verdanab.ttf",
		styleItalic:     "verdanai.ttf",
		styleBoldItalic: "verdanaz.ttf",
	},
	"georgia": {
		styleRegular:    "georgia.ttf",
		styleBold:       "georgiab.ttf",
		styleItalic:     "georgiai.ttf",
		styleBoldItalic: "georgiaz.ttf",
	},
	"tahoma": {
		styleRegular:    "tahoma.ttf",
		styleBold:       "tahomabd.ttf",
		styleItalic:     "tahoma.ttf",
		styleBoldItalic: "tahomabd.ttf",
	},
	"dejavu sans": {
		styleRegular:    "DejaVuSans.ttf",
		styleBold:       "DejaVuSans-Bold.ttf",
		styleItalic:     "DejaVuSans-Oblique.ttf",
		styleBoldItalic: "DejaVuSans-BoldOblique.ttf",
	},
	"liberation sans": {
		styleRegular:    "LiberationSans-Regular.ttf",
		styleBold:       "LiberationSans-Bold.ttf",
		styleItalic:     "LiberationSans-Italic.ttf",
		styleBoldItalic: "LiberationSans-BoldItalic.ttf",
	},
}

// arialLikeFallbacks is the last-resort probe list when neither the
// requested family nor its regular style can be located.
var arialLikeFallbacks = []string{
	"arial.ttf",
	"Arial.ttf",
	"LiberationSans-Regular.ttf",
	"DejaVuSans.ttf",
}

var systemFontDirs = []string{
	"/usr/share/fonts/truetype/msttcorefonts",
	"/usr/share/fonts/truetype/liberation",
	"/usr/share/fonts/truetype/dejavu",
	"/usr/share/fonts/truetype",
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/Library/Fonts",
	"/System/Library/Fonts",
	`C:\Windows\Fonts`,
}

// FontResolver locates outline font files for template text styles. Every
// lookup is best-effort: a miss yields "" and the caller draws with the
// built-in bitmap face.
type FontResolver struct {
	appFontsDir string
	log         *logger.Logger
}

func NewFontResolver(appFontsDir string, baseLog *logger.Logger) *FontResolver {
	return &FontResolver{
		appFontsDir: appFontsDir,
		log:         baseLog.With("component", "FontResolver"),
	}
}

// NormalizeStyle folds a free-form style string into one of the four
// canonical buckets. Unrecognized input maps to regular.
func NormalizeStyle(style string) string {
	s := strings.ToLower(strings.TrimSpace(style))
	bold := strings.Contains(s, "bold")
	italic := strings.Contains(s, "italic") || strings.Contains(s, "oblique")
	switch {
	case bold && italic:
		return styleBoldItalic
	case bold:
		return styleBold
	case italic:
		return styleItalic
	}
	return styleRegular
}

// Resolve maps a family and style to a font file path, or "" when nothing
// matches. It never returns an error: font resolution must not be able to
// fail a generation.
func (fr *FontResolver) Resolve(family, style string) string {
	bucket := NormalizeStyle(style)
	if path := fr.resolveBucket(family, bucket); path != "" {
		return path
	}
	// Retry the same family in its regular cut before giving up on it.
	if bucket != styleRegular {
		if path := fr.resolveBucket(family, styleRegular); path != "" {
			return path
		}
	}
	for _, name := range arialLikeFallbacks {
		if path := fr.probe(name); path != "" {
			return path
		}
	}
	fr.log.Debug("No font file found", "family", family, "style", style)
	return ""
}

func (fr *FontResolver) resolveBucket(family, bucket string) string {
	files, ok := familyFiles[strings.ToLower(strings.TrimSpace(family))]
	if !ok {
		return ""
	}
	name, ok := files[bucket]
	if !ok {
		return ""
	}
	return fr.probe(name)
}

func (fr *FontResolver) probe(filename string) string {
	dirs := make([]string, 0, len(systemFontDirs)+1)
	if fr.appFontsDir != "" {
		dirs = append(dirs, fr.appFontsDir)
	}
	dirs = append(dirs, systemFontDirs...)

	for _, dir := range dirs {
		for _, variant := range casingVariants(filename) {
			candidate := filepath.Join(dir, variant)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

func casingVariants(filename string) []string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	variants := []string{
		filename,
		strings.ToLower(stem) + strings.ToLower(ext),
		strings.ToUpper(stem) + strings.ToLower(ext),
		upperFirst(strings.ToLower(stem)) + strings.ToLower(ext),
	}
	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// LoadFace parses a TTF file into a font.Face at the given point size.
func LoadFace(path string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// FallbackFace is the built-in bitmap face used when no outline font
// resolves. Generation always has something to draw with.
func FallbackFace() font.Face {
	return basicfont.Face7x13
}
