package models

import (
	"time"

	"gorm.io/gorm"
)

// MediaType discriminates the Media table's variants.
type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaTvShow  MediaType = "tv_show"
	MediaEpisode MediaType = "episode"
)

// Media is the shared record for movies, shows and episodes.
// Seasons live in their own table; episodes carry an Episode side-record
// holding season linkage and numbering.
type Media struct {
	BaseModel

	// LibraryID is the foreign key to the owning Library.
	LibraryID ULID `gorm:"type:varchar(26);not null;index" json:"library_id"`

	// Type discriminates movie, tv_show and episode rows.
	Type MediaType `gorm:"not null;size:16;index" json:"type"`

	// Name is the canonical title from the metadata provider.
	Name string `gorm:"not null;size:512;index" json:"name"`

	// Description is the provider synopsis.
	Description string `gorm:"type:text" json:"description,omitempty"`

	// Rating is the provider vote average, when known.
	Rating *float64 `json:"rating,omitempty"`

	// Year is the release/first-air year, when known.
	Year *int `json:"year,omitempty"`

	// Added is when this media entered the library.
	Added time.Time `json:"added"`

	// Poster and Backdrop are provider asset URLs.
	Poster   string `gorm:"size:2048" json:"poster,omitempty"`
	Backdrop string `gorm:"size:2048" json:"backdrop,omitempty"`

	// Genres is the many-to-many genre relation, rebuilt on every match.
	Genres []Genre `gorm:"many2many:media_genres" json:"genres,omitempty"`
}

// TableName returns the table name for Media.
func (Media) TableName() string {
	return "media"
}

// Validate performs basic validation on the media record.
func (m *Media) Validate() error {
	if m.LibraryID.IsZero() {
		return ErrLibraryIDRequired
	}
	if m.Name == "" {
		return ErrNameRequired
	}
	switch m.Type {
	case MediaMovie, MediaTvShow, MediaEpisode:
	default:
		return ErrInvalidMediaType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the media and generates its ID.
func (m *Media) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if m.Added.IsZero() {
		m.Added = time.Now()
	}
	return m.Validate()
}

// Season groups episodes under a tv show.
type Season struct {
	BaseModel

	// TvShowID is the foreign key to the parent show's Media row.
	TvShowID ULID `gorm:"type:varchar(26);not null;index:idx_show_season,unique" json:"tv_show_id"`

	// SeasonNumber is the provider season number; 0 means extras/specials.
	SeasonNumber int `gorm:"not null;index:idx_show_season,unique" json:"season_number"`

	// Added is when this season entered the library.
	Added time.Time `json:"added"`

	// Poster is the provider season poster URL.
	Poster string `gorm:"size:2048" json:"poster,omitempty"`
}

// TableName returns the table name for Season.
func (Season) TableName() string {
	return "seasons"
}

// BeforeCreate is a GORM hook that generates the season ID.
func (s *Season) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.Added.IsZero() {
		s.Added = time.Now()
	}
	return nil
}

// Episode is the side-record for episode Media rows: season linkage and
// numbering. Its primary key is the episode's Media ID.
type Episode struct {
	// MediaID is the episode's Media row.
	MediaID ULID `gorm:"type:varchar(26);primaryKey" json:"media_id"`

	// SeasonID is the foreign key to the parent Season.
	SeasonID ULID `gorm:"type:varchar(26);not null;index:idx_season_episode,unique" json:"season_id"`

	// EpisodeNumber is the provider episode number within the season.
	EpisodeNumber int `gorm:"not null;index:idx_season_episode,unique" json:"episode_number"`
}

// TableName returns the table name for Episode.
func (Episode) TableName() string {
	return "episodes"
}
