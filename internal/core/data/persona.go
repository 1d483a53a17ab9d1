package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Persona is one of a customer's in-game drivers.
type Persona struct {
	ID         uint32 `gorm:"primaryKey"`
	CustomerID uint32 `gorm:"index; not null"`
	Name       string `gorm:"not null"`
	// Lowercased form of Name used for uniqueness checks.
	NormalizedName string `gorm:"uniqueIndex; not null"`
	ShardID        uint32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt
}

// FindPersonasByCustomer returns the customer's personas ordered by id.
func FindPersonasByCustomer(db *gorm.DB, customerID uint32) ([]Persona, error) {
	var personas []Persona
	err := db.Where("customer_id = ?", customerID).Order("id").Find(&personas).Error
	return personas, err
}

// FindPersonaByID returns the persona or nil if there is no match.
func FindPersonaByID(db *gorm.DB, id uint32) (*Persona, error) {
	var persona Persona
	err := db.First(&persona, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &persona, nil
}

// FindPersonaByName looks a persona up by its normalized name.
func FindPersonaByName(db *gorm.DB, normalizedName string) (*Persona, error) {
	var persona Persona
	err := db.Where("normalized_name = ?", normalizedName).First(&persona).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &persona, nil
}

// CreatePersona persists a Persona to the database.
func CreatePersona(db *gorm.DB, persona *Persona) error {
	return db.Create(persona).Error
}
