// Package scanner walks library roots, registers discovered video files
// and derives metadata guesses for the matcher.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lumoware/lumo/internal/ffmpeg"
	"github.com/lumoware/lumo/internal/models"
	"github.com/lumoware/lumo/internal/repository"
)

// videoExtensions are the container extensions treated as library content.
var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".m4v":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".ts":   true,
	".wmv":  true,
	".flv":  true,
}

// sampleFileRx marks promo snippets shipped next to releases.
var sampleFileRx = regexp.MustCompile(`(?i)(?:^|[\s._-])sample(?:[\s._-]|$)`)

// WorkUnit bundles a registered file with its ordered metadata guesses.
// The matcher consumes these; the scanner never talks to a provider.
type WorkUnit struct {
	File       *models.MediaFile
	Candidates []Metadata
}

// Scanner discovers video files under library roots.
type Scanner struct {
	files  repository.MediaFileRepository
	prober *ffmpeg.Prober
	logger *slog.Logger
}

// New creates a scanner.
func New(files repository.MediaFileRepository, prober *ffmpeg.Prober, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		files:  files,
		prober: prober,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// ScanLibrary walks the library root and returns the work units needing a
// metadata match: newly discovered files plus known files that are still
// unmatched. Files that fail the probe are logged and skipped, never
// inserted.
func (s *Scanner) ScanLibrary(ctx context.Context, lib *models.Library) ([]WorkUnit, error) {
	var units []WorkUnit

	err := filepath.WalkDir(lib.Location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("walk error",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != lib.Location {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !videoExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		if sampleFileRx.MatchString(strings.TrimSuffix(name, filepath.Ext(name))) {
			return nil
		}

		unit, err := s.registerFile(ctx, lib, path)
		if err != nil {
			s.logger.Warn("skipping file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if unit != nil {
			units = append(units, *unit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("library scan finished",
		slog.String("library", lib.Name),
		slog.Int("pending_units", len(units)),
	)
	return units, nil
}

// registerFile ensures a MediaFile row exists for path and returns a work
// unit when the file still needs matching. Already matched files return nil.
func (s *Scanner) registerFile(ctx context.Context, lib *models.Library, path string) (*WorkUnit, error) {
	existing, err := s.files.GetByTarget(ctx, lib.ID, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.MediaID != nil {
			return nil, nil
		}
		return &WorkUnit{File: existing, Candidates: Candidates(path)}, nil
	}

	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	file := &models.MediaFile{
		LibraryID:  lib.ID,
		TargetFile: path,
		RawName:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Duration:   info.GetDuration(),
		Bitrate:    info.GetContainerBitrate(),
	}
	if video := info.GetPrimary(ffmpeg.StreamVideo); video != nil {
		file.Codec = video.CodecName
		file.Width = video.Width
		file.Height = video.Height
	}
	if err := s.files.Create(ctx, file); err != nil {
		return nil, err
	}

	s.logger.Debug("file registered",
		slog.String("path", path),
		slog.String("library", lib.Name),
	)
	return &WorkUnit{File: file, Candidates: Candidates(path)}, nil
}
