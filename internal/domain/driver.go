package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Driver struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FirstName       string         `gorm:"column:first_name;not null" json:"first_name"`
	LastName        string         `gorm:"column:last_name;not null" json:"last_name"`
	Cedula          string         `gorm:"column:cedula;not null;uniqueIndex" json:"cedula"`
	Category        string         `gorm:"column:category" json:"category"`
	BloodType       string         `gorm:"column:blood_type" json:"blood_type"`
	InternalNumber  string         `gorm:"column:internal_number" json:"internal_number"`
	Phone           string         `gorm:"column:phone" json:"phone"`
	Email           string         `gorm:"column:email" json:"email"`
	BirthDate       *time.Time     `gorm:"column:birth_date" json:"birth_date,omitempty"`
	StudyLevel      string         `gorm:"column:study_level" json:"study_level"`
	OtherProfession string         `gorm:"column:other_profession" json:"other_profession"`
	Status          string         `gorm:"column:status;not null;default:activo;index" json:"status"`
	// PhotoData holds an inline-encoded photo (data URI or bare base64).
	// PhotoPath points at an on-disk photo; PhotoData wins when both are set.
	PhotoData       string         `gorm:"column:photo_data;type:text" json:"photo_data,omitempty"`
	PhotoPath       string         `gorm:"column:photo_path" json:"photo_path,omitempty"`
	ActiveVehicleID *uuid.UUID     `gorm:"type:uuid;column:active_vehicle_id" json:"active_vehicle_id,omitempty"`
	CarnetPath      string         `gorm:"column:carnet_path" json:"carnet_path,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ActiveVehicle *Vehicle `gorm:"foreignKey:ActiveVehicleID" json:"active_vehicle,omitempty"`
}

func (Driver) TableName() string { return "driver" }

func (d *Driver) FullName() string {
	switch {
	case d.FirstName == "":
		return d.LastName
	case d.LastName == "":
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

type Vehicle struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Plate     string         `gorm:"column:plate;not null;uniqueIndex" json:"plate"`
	Brand     string         `gorm:"column:brand" json:"brand"`
	Model     string         `gorm:"column:model" json:"model"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Vehicle) TableName() string { return "vehicle" }
