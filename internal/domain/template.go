package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CarnetTemplate is the reusable background image plus field-placement
// configuration used to stamp driver data onto a carnet. At most one
// template is active at a time; activation deactivates all others.
type CarnetTemplate struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	BackgroundPath string         `gorm:"column:background_path;not null" json:"background_path"`
	FieldConfig    datatypes.JSON `gorm:"column:field_config;type:jsonb" json:"field_config"`
	Active         bool           `gorm:"column:active;not null;default:false;index" json:"active"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CarnetTemplate) TableName() string { return "carnet_template" }

// Fields decodes and validates the template's field configuration.
func (t *CarnetTemplate) Fields() (FieldConfig, error) {
	return ParseFieldConfig(t.FieldConfig)
}

// CarnetData is the immutable projection of one driver taken at generation
// time; the render engine only ever reads it.
type CarnetData struct {
	DriverID   uuid.UUID
	Cedula     string
	Values     map[FieldKey]string
	PhotoData  string
	PhotoPath  string
	ProfileURL string
}

// SnapshotDriver builds the field/value projection the compositor consumes.
// Missing optional fields project as empty strings, never as errors.
func SnapshotDriver(d *Driver, profileURL string) CarnetData {
	values := map[FieldKey]string{
		FieldNombres:        d.FirstName,
		FieldApellidos:      d.LastName,
		FieldNombreCompleto: d.FullName(),
		FieldCedula:         d.Cedula,
		FieldCategoria:      d.Category,
		FieldTipoSangre:     d.BloodType,
		FieldNumeroInterno:  d.InternalNumber,
		FieldTelefono:       d.Phone,
		FieldEmail:          d.Email,
		FieldNivelEstudio:   d.StudyLevel,
		FieldOtraProfesion:  d.OtherProfession,
		FieldEstado:         d.Status,
	}
	if d.BirthDate != nil {
		values[FieldFechaNacimiento] = d.BirthDate.Format("2006-01-02")
	} else {
		values[FieldFechaNacimiento] = ""
	}
	if v := d.ActiveVehicle; v != nil {
		values[FieldVehiculo] = v.Brand + " " + v.Model
		values[FieldPlaca] = v.Plate
		values[FieldMarca] = v.Brand
		values[FieldModelo] = v.Model
	} else {
		values[FieldVehiculo] = ""
		values[FieldPlaca] = ""
		values[FieldMarca] = ""
		values[FieldModelo] = ""
	}
	return CarnetData{
		DriverID:   d.ID,
		Cedula:     d.Cedula,
		Values:     values,
		PhotoData:  d.PhotoData,
		PhotoPath:  d.PhotoPath,
		ProfileURL: profileURL,
	}
}
