// Package repository defines data access interfaces for lumo entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/lumoware/lumo/internal/models"
)

// LibraryRepository defines operations for library persistence.
type LibraryRepository interface {
	// Create creates a new library.
	Create(ctx context.Context, lib *models.Library) error
	// GetByID retrieves a library by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Library, error)
	// List retrieves all libraries.
	List(ctx context.Context) ([]*models.Library, error)
	// Delete deletes a library by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// MediaFileRepository defines operations for discovered file persistence.
type MediaFileRepository interface {
	// Create creates a new media file record.
	Create(ctx context.Context, file *models.MediaFile) error
	// GetByID retrieves a media file by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.MediaFile, error)
	// GetByTarget retrieves a media file by library and absolute path.
	GetByTarget(ctx context.Context, libraryID models.ULID, target string) (*models.MediaFile, error)
	// ListByLibrary retrieves all media files in a library.
	ListByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.MediaFile, error)
	// SetMediaID rewrites the file's media reference.
	SetMediaID(ctx context.Context, fileID, mediaID models.ULID) error
	// CountByMediaID counts files referencing the given media row.
	CountByMediaID(ctx context.Context, mediaID models.ULID) (int64, error)
	// Delete deletes a media file record by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// MediaRepository defines operations for media, season, episode and genre
// persistence. Implementations are safe to construct over a transaction.
type MediaRepository interface {
	// GetByID retrieves a media row by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Media, error)
	// LazyInsert gets or inserts a media row keyed on (library, type, name, year).
	LazyInsert(ctx context.Context, m *models.Media) error
	// Delete removes a media row and, for episodes, its side-record.
	Delete(ctx context.Context, id models.ULID) error

	// GetOrCreateSeason gets or inserts a season keyed on (show, number).
	GetOrCreateSeason(ctx context.Context, s *models.Season) error
	// GetSeason retrieves a season by ID. Returns nil when not found.
	GetSeason(ctx context.Context, id models.ULID) (*models.Season, error)
	// DeleteSeason removes a season row.
	DeleteSeason(ctx context.Context, id models.ULID) error

	// GetOrCreateEpisode gets or inserts an episode keyed on (season, number).
	GetOrCreateEpisode(ctx context.Context, m *models.Media, seasonID models.ULID, episodeNumber int) error
	// GetEpisode retrieves an episode side-record by its Media ID.
	GetEpisode(ctx context.Context, mediaID models.ULID) (*models.Episode, error)
	// CountSeasonEpisodes counts episodes under a season.
	CountSeasonEpisodes(ctx context.Context, seasonID models.ULID) (int64, error)
	// CountShowSeasons counts seasons under a tv show.
	CountShowSeasons(ctx context.Context, showID models.ULID) (int64, error)

	// DecoupleGenres removes every genre link from a media row.
	DecoupleGenres(ctx context.Context, mediaID models.ULID) error
	// AttachGenre links a genre to a media row, ignoring duplicates.
	AttachGenre(ctx context.Context, mediaID, genreID models.ULID) error
	// GetOrCreateGenre gets or inserts a genre by name.
	GetOrCreateGenre(ctx context.Context, name string) (*models.Genre, error)
}
