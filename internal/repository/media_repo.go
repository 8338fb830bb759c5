package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lumoware/lumo/internal/models"
)

// mediaRepo implements media, season, episode and genre-link access using GORM.
type mediaRepo struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
func NewMediaRepository(db *gorm.DB) *mediaRepo {
	return &mediaRepo{db: db}
}

// GetByID retrieves a media row by ID. Returns nil when not found.
func (r *mediaRepo) GetByID(ctx context.Context, id models.ULID) (*models.Media, error) {
	var m models.Media
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media by ID: %w", err)
	}
	return &m, nil
}

// LazyInsert gets or inserts a media row keyed on (library, type, name, year).
// The passed record's ID is overwritten with the persisted row's ID.
func (r *mediaRepo) LazyInsert(ctx context.Context, m *models.Media) error {
	q := r.db.WithContext(ctx).
		Where("library_id = ? AND type = ? AND name = ?", m.LibraryID, m.Type, m.Name)
	if m.Year != nil {
		q = q.Where("year = ?", *m.Year)
	} else {
		q = q.Where("year IS NULL")
	}

	var existing models.Media
	err := q.First(&existing).Error
	if err == nil {
		*m = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("looking up media: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("inserting media: %w", err)
	}
	return nil
}

// Delete removes a media row and, for episodes, its side-record.
func (r *mediaRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Episode{}, "media_id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting episode record: %w", err)
	}
	if err := r.db.WithContext(ctx).Where("media_id = ?", id).Delete(&mediaGenre{}).Error; err != nil {
		return fmt.Errorf("deleting genre links: %w", err)
	}
	if err := r.db.WithContext(ctx).Delete(&models.Media{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting media: %w", err)
	}
	return nil
}

// GetOrCreateSeason gets or inserts a season keyed on (show, season number).
// The passed record's ID is overwritten with the persisted row's ID.
func (r *mediaRepo) GetOrCreateSeason(ctx context.Context, s *models.Season) error {
	var existing models.Season
	err := r.db.WithContext(ctx).
		Where("tv_show_id = ? AND season_number = ?", s.TvShowID, s.SeasonNumber).
		First(&existing).Error
	if err == nil {
		*s = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("looking up season: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("inserting season: %w", err)
	}
	return nil
}

// GetSeason retrieves a season by ID. Returns nil when not found.
func (r *mediaRepo) GetSeason(ctx context.Context, id models.ULID) (*models.Season, error) {
	var s models.Season
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting season: %w", err)
	}
	return &s, nil
}

// DeleteSeason removes a season row.
func (r *mediaRepo) DeleteSeason(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Season{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting season: %w", err)
	}
	return nil
}

// GetOrCreateEpisode gets or inserts an episode Media row plus its
// side-record, keyed on (season, episode number). The passed media record's
// ID is overwritten with the persisted episode's Media ID.
func (r *mediaRepo) GetOrCreateEpisode(ctx context.Context, m *models.Media, seasonID models.ULID, episodeNumber int) error {
	var existing models.Episode
	err := r.db.WithContext(ctx).
		Where("season_id = ? AND episode_number = ?", seasonID, episodeNumber).
		First(&existing).Error
	if err == nil {
		found, lookupErr := r.GetByID(ctx, existing.MediaID)
		if lookupErr != nil {
			return lookupErr
		}
		if found != nil {
			*m = *found
			return nil
		}
		// Dangling side-record; fall through and recreate both rows.
		if err := r.db.WithContext(ctx).Delete(&models.Episode{}, "media_id = ?", existing.MediaID).Error; err != nil {
			return fmt.Errorf("deleting dangling episode record: %w", err)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("looking up episode: %w", err)
	}

	m.Type = models.MediaEpisode
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("inserting episode media: %w", err)
	}
	ep := models.Episode{MediaID: m.ID, SeasonID: seasonID, EpisodeNumber: episodeNumber}
	if err := r.db.WithContext(ctx).Create(&ep).Error; err != nil {
		return fmt.Errorf("inserting episode record: %w", err)
	}
	return nil
}

// GetEpisode retrieves an episode side-record by its Media ID.
// Returns nil when the media row is not an episode.
func (r *mediaRepo) GetEpisode(ctx context.Context, mediaID models.ULID) (*models.Episode, error) {
	var ep models.Episode
	if err := r.db.WithContext(ctx).Where("media_id = ?", mediaID).First(&ep).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting episode record: %w", err)
	}
	return &ep, nil
}

// CountSeasonEpisodes counts episodes under a season.
func (r *mediaRepo) CountSeasonEpisodes(ctx context.Context, seasonID models.ULID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("season_id = ?", seasonID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting season episodes: %w", err)
	}
	return n, nil
}

// CountShowSeasons counts seasons under a tv show.
func (r *mediaRepo) CountShowSeasons(ctx context.Context, showID models.ULID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Season{}).
		Where("tv_show_id = ?", showID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting show seasons: %w", err)
	}
	return n, nil
}

// mediaGenre is the join row for the Media<->Genre relation.
type mediaGenre struct {
	MediaID models.ULID `gorm:"type:varchar(26);primaryKey"`
	GenreID models.ULID `gorm:"type:varchar(26);primaryKey"`
}

// TableName returns the join table name GORM uses for the relation.
func (mediaGenre) TableName() string {
	return "media_genres"
}

// DecoupleGenres removes every genre link from a media row.
func (r *mediaRepo) DecoupleGenres(ctx context.Context, mediaID models.ULID) error {
	if err := r.db.WithContext(ctx).Where("media_id = ?", mediaID).Delete(&mediaGenre{}).Error; err != nil {
		return fmt.Errorf("decoupling genres: %w", err)
	}
	return nil
}

// AttachGenre links a genre to a media row, ignoring duplicates.
func (r *mediaRepo) AttachGenre(ctx context.Context, mediaID, genreID models.ULID) error {
	link := mediaGenre{MediaID: mediaID, GenreID: genreID}
	err := r.db.WithContext(ctx).
		Where(&link).
		FirstOrCreate(&link).Error
	if err != nil {
		return fmt.Errorf("attaching genre: %w", err)
	}
	return nil
}

// GetOrCreateGenre gets or inserts a genre by name.
func (r *mediaRepo) GetOrCreateGenre(ctx context.Context, name string) (*models.Genre, error) {
	var g models.Genre
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&g).Error
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up genre: %w", err)
	}

	g = models.Genre{Name: name}
	if err := r.db.WithContext(ctx).Create(&g).Error; err != nil {
		return nil, fmt.Errorf("inserting genre: %w", err)
	}
	return &g, nil
}
