package models

import "errors"

// Validation errors shared across models.
var (
	ErrNameRequired      = errors.New("name is required")
	ErrLocationRequired  = errors.New("location is required")
	ErrLibraryIDRequired = errors.New("library id is required")
	ErrTargetRequired    = errors.New("target file is required")
	ErrInvalidMediaType  = errors.New("invalid media type")
)
