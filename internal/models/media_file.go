package models

import "gorm.io/gorm"

// MediaFile is one discovered file on disk. It references at most one
// Movie or Episode through MediaID; nil until matched.
type MediaFile struct {
	BaseModel

	// LibraryID is the foreign key to the owning Library.
	LibraryID ULID `gorm:"type:varchar(26);not null;index" json:"library_id"`

	// TargetFile is the absolute path of the file; unique per library.
	TargetFile string `gorm:"not null;size:4096;index:idx_library_target,unique" json:"target_file"`

	// RawName is the filename stem before any heuristic cleanup.
	RawName string `gorm:"not null;size:512" json:"raw_name"`

	// MediaID points at the matched Movie or Episode Media row.
	MediaID *ULID `gorm:"type:varchar(26);index" json:"media_id,omitempty"`

	// Probe results captured at insertion time.
	Duration float64 `json:"duration,omitempty"` // seconds
	Bitrate  int     `json:"bitrate,omitempty"`  // container bits/second
	Codec    string  `gorm:"size:64" json:"codec,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// TableName returns the table name for MediaFile.
func (MediaFile) TableName() string {
	return "media_files"
}

// Validate performs basic validation on the media file.
func (f *MediaFile) Validate() error {
	if f.LibraryID.IsZero() {
		return ErrLibraryIDRequired
	}
	if f.TargetFile == "" {
		return ErrTargetRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the file and generates its ID.
func (f *MediaFile) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return f.Validate()
}
