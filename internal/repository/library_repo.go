// Package repository provides data access for lumo models using GORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lumoware/lumo/internal/models"
)

// libraryRepo implements LibraryRepository using GORM.
type libraryRepo struct {
	db *gorm.DB
}

// NewLibraryRepository creates a new LibraryRepository.
func NewLibraryRepository(db *gorm.DB) *libraryRepo {
	return &libraryRepo{db: db}
}

// Create creates a new library.
func (r *libraryRepo) Create(ctx context.Context, lib *models.Library) error {
	if err := r.db.WithContext(ctx).Create(lib).Error; err != nil {
		return fmt.Errorf("creating library: %w", err)
	}
	return nil
}

// GetByID retrieves a library by ID. Returns nil when not found.
func (r *libraryRepo) GetByID(ctx context.Context, id models.ULID) (*models.Library, error) {
	var lib models.Library
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&lib).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting library by ID: %w", err)
	}
	return &lib, nil
}

// List retrieves all libraries.
func (r *libraryRepo) List(ctx context.Context) ([]*models.Library, error) {
	var libs []*models.Library
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&libs).Error; err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	return libs, nil
}

// Delete deletes a library by ID.
func (r *libraryRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Library{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting library: %w", err)
	}
	return nil
}
