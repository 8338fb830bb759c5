package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lumoware/lumo/internal/models"
)

// mediaFileRepo implements MediaFileRepository using GORM.
type mediaFileRepo struct {
	db *gorm.DB
}

// NewMediaFileRepository creates a new MediaFileRepository.
func NewMediaFileRepository(db *gorm.DB) *mediaFileRepo {
	return &mediaFileRepo{db: db}
}

// Create creates a new media file record.
func (r *mediaFileRepo) Create(ctx context.Context, file *models.MediaFile) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("creating media file: %w", err)
	}
	return nil
}

// GetByID retrieves a media file by ID. Returns nil when not found.
func (r *mediaFileRepo) GetByID(ctx context.Context, id models.ULID) (*models.MediaFile, error) {
	var file models.MediaFile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media file by ID: %w", err)
	}
	return &file, nil
}

// GetByTarget retrieves a media file by library and absolute path.
// Returns nil when not found.
func (r *mediaFileRepo) GetByTarget(ctx context.Context, libraryID models.ULID, target string) (*models.MediaFile, error) {
	var file models.MediaFile
	err := r.db.WithContext(ctx).
		Where("library_id = ? AND target_file = ?", libraryID, target).
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media file by target: %w", err)
	}
	return &file, nil
}

// ListByLibrary retrieves all media files in a library.
func (r *mediaFileRepo) ListByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.MediaFile, error) {
	var files []*models.MediaFile
	err := r.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("target_file ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("listing media files: %w", err)
	}
	return files, nil
}

// SetMediaID rewrites the file's media reference.
func (r *mediaFileRepo) SetMediaID(ctx context.Context, fileID models.ULID, mediaID models.ULID) error {
	err := r.db.WithContext(ctx).
		Model(&models.MediaFile{}).
		Where("id = ?", fileID).
		Update("media_id", mediaID).Error
	if err != nil {
		return fmt.Errorf("setting media id: %w", err)
	}
	return nil
}

// CountByMediaID counts files referencing the given media row.
func (r *mediaFileRepo) CountByMediaID(ctx context.Context, mediaID models.ULID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.MediaFile{}).
		Where("media_id = ?", mediaID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting media files: %w", err)
	}
	return n, nil
}

// Delete deletes a media file record by ID.
func (r *mediaFileRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Delete(&models.MediaFile{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting media file: %w", err)
	}
	return nil
}
