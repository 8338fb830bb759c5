package models

import "gorm.io/gorm"

// Genre is a provider genre; many-to-many with Media via media_genres.
type Genre struct {
	BaseModel

	// Name is the genre display name, unique across the table.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`
}

// TableName returns the table name for Genre.
func (Genre) TableName() string {
	return "genres"
}

// BeforeCreate is a GORM hook that validates the genre and generates its ID.
func (g *Genre) BeforeCreate(tx *gorm.DB) error {
	if err := g.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if g.Name == "" {
		return ErrNameRequired
	}
	return nil
}
