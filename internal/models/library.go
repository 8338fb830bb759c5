package models

import "gorm.io/gorm"

// LibraryKind classifies a library's contents.
type LibraryKind string

const (
	// LibraryMovie holds standalone movies.
	LibraryMovie LibraryKind = "movie"
	// LibraryTv holds episodic content organized show/season/episode.
	LibraryTv LibraryKind = "tv"
)

// Library represents a configured media library root.
type Library struct {
	BaseModel

	// Name is the display name of the library.
	Name string `gorm:"not null;size:255" json:"name"`

	// Location is the filesystem root that gets walked on scan.
	Location string `gorm:"not null;size:4096" json:"location"`

	// Kind determines how discovered files are matched (movie vs tv).
	Kind LibraryKind `gorm:"not null;size:16" json:"kind"`
}

// TableName returns the table name for Library.
func (Library) TableName() string {
	return "libraries"
}

// Validate performs basic validation on the library.
func (l *Library) Validate() error {
	if l.Name == "" {
		return ErrNameRequired
	}
	if l.Location == "" {
		return ErrLocationRequired
	}
	if l.Kind != LibraryMovie && l.Kind != LibraryTv {
		return ErrInvalidMediaType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the library and generates its ID.
func (l *Library) BeforeCreate(tx *gorm.DB) error {
	if err := l.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return l.Validate()
}
