package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FieldKey identifies one placeholder position on a carnet template. The
// vocabulary is closed; configs carrying unknown keys are rejected at
// template activation.
type FieldKey string

const (
	FieldNombres         FieldKey = "nombres"
	FieldApellidos       FieldKey = "apellidos"
	FieldNombreCompleto  FieldKey = "nombre_completo"
	FieldCedula          FieldKey = "cedula"
	FieldCategoria       FieldKey = "categoria"
	FieldTipoSangre      FieldKey = "tipo_sangre"
	FieldNumeroInterno   FieldKey = "numero_interno"
	FieldTelefono        FieldKey = "telefono"
	FieldEmail           FieldKey = "email"
	FieldFechaNacimiento FieldKey = "fecha_nacimiento"
	FieldNivelEstudio    FieldKey = "nivel_estudio"
	FieldOtraProfesion   FieldKey = "otra_profesion"
	FieldEstado          FieldKey = "estado"
	FieldFoto            FieldKey = "foto"
	FieldVehiculo        FieldKey = "vehiculo"
	FieldPlaca           FieldKey = "placa"
	FieldMarca           FieldKey = "marca"
	FieldModelo          FieldKey = "modelo"
	FieldQR              FieldKey = "qr"
)

// FieldKeys lists every known key in the order fields are rendered.
var FieldKeys = []FieldKey{
	FieldNombres, FieldApellidos, FieldNombreCompleto, FieldCedula,
	FieldCategoria, FieldTipoSangre, FieldNumeroInterno, FieldTelefono,
	FieldEmail, FieldFechaNacimiento, FieldNivelEstudio, FieldOtraProfesion,
	FieldEstado, FieldFoto, FieldVehiculo, FieldPlaca, FieldMarca,
	FieldModelo, FieldQR,
}

type FieldKind string

const (
	FieldKindText  FieldKind = "text"
	FieldKindImage FieldKind = "image"
)

// Kind reports whether a key carries text or an image. Photo and QR share
// the image style shape; everything else is text.
func (k FieldKey) Kind() FieldKind {
	if k == FieldFoto || k == FieldQR {
		return FieldKindImage
	}
	return FieldKindText
}

func (k FieldKey) Known() bool {
	for _, known := range FieldKeys {
		if k == known {
			return true
		}
	}
	return false
}

// FieldStyle is the per-field placement and styling. It is a tagged union:
// text fields use the font/color/centered members, image fields use Size
// (one dimension, the region is square).
type FieldStyle struct {
	Kind       FieldKind `json:"-"`
	Active     bool      `json:"active"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	FontSize   float64   `json:"font_size,omitempty"`
	FontFamily string    `json:"font_family,omitempty"`
	FontStyle  string    `json:"font_style,omitempty"`
	Color      string    `json:"color,omitempty"`
	Centered   bool      `json:"centered,omitempty"`
	Size       float64   `json:"size,omitempty"`
}

// FieldConfig maps field keys to styles. This is the shape stored on a
// template's field_config JSON column.
type FieldConfig map[FieldKey]FieldStyle

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ParseFieldConfig decodes and validates a template's field configuration.
// Validation happens here, at the activation boundary, so the compositor
// can trust every style it receives.
func ParseFieldConfig(raw []byte) (FieldConfig, error) {
	if len(raw) == 0 {
		return FieldConfig{}, nil
	}
	var decoded map[string]FieldStyle
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("field config is not valid JSON: %w", err)
	}
	cfg := make(FieldConfig, len(decoded))
	for rawKey, style := range decoded {
		key := FieldKey(strings.ToLower(strings.TrimSpace(rawKey)))
		if !key.Known() {
			return nil, fmt.Errorf("unknown field key %q", rawKey)
		}
		style.Kind = key.Kind()
		if err := style.validate(key); err != nil {
			return nil, err
		}
		cfg[key] = style
	}
	return cfg, nil
}

func (s FieldStyle) validate(key FieldKey) error {
	if !s.Active {
		return nil
	}
	if s.X < 0 || s.Y < 0 {
		return fmt.Errorf("field %q: position must not be negative", key)
	}
	switch s.Kind {
	case FieldKindImage:
		if s.Size <= 0 {
			return fmt.Errorf("field %q: image fields need a positive size", key)
		}
	case FieldKindText:
		if s.FontSize < 0 {
			return fmt.Errorf("field %q: negative font size", key)
		}
		if s.Color != "" && !hexColorRe.MatchString(s.Color) {
			return fmt.Errorf("field %q: color %q is not #RRGGBB", key, s.Color)
		}
	}
	return nil
}
