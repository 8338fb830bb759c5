package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumoware/lumo/internal/ffmpeg"
	"github.com/lumoware/lumo/internal/models"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/scanner"
)

const stubProbe = `#!/bin/sh
cat <<'JSON'
{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720}
  ],
  "format": {"duration": "600.0", "bit_rate": "3000000"}
}
JSON
`

func testSetup(t *testing.T) (*gorm.DB, *scanner.Scanner, repository.LibraryRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Library{}, &models.MediaFile{}))

	probe := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(probe, []byte(stubProbe), 0o755))

	files := repository.NewMediaFileRepository(db)
	sc := scanner.New(files, ffmpeg.NewProber(probe), nil)
	return db, sc, repository.NewLibraryRepository(db)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	_, sc, libs := testSetup(t)

	s := New(libs, sc, nil, "not a cron expression", nil)
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scan schedule")
}

func TestScanAllScansEveryLibrary(t *testing.T) {
	db, sc, libs := testSetup(t)

	ctx := context.Background()
	for _, name := range []string{"A", "B"} {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, name+".2020.mkv"), []byte("x"), 0o644))
		require.NoError(t, libs.Create(ctx, &models.Library{
			Name: name, Location: root, Kind: models.LibraryMovie,
		}))
	}

	s := New(libs, sc, nil, "@hourly", nil)
	assert.True(t, s.ScanAll(ctx))

	var n int64
	require.NoError(t, db.Model(&models.MediaFile{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestScanAllSurvivesMissingRoot(t *testing.T) {
	db, sc, libs := testSetup(t)

	ctx := context.Background()
	require.NoError(t, libs.Create(ctx, &models.Library{
		Name: "Gone", Location: "/nonexistent/library", Kind: models.LibraryMovie,
	}))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Kept.2020.mkv"), []byte("x"), 0o644))
	require.NoError(t, libs.Create(ctx, &models.Library{
		Name: "Kept", Location: root, Kind: models.LibraryMovie,
	}))

	s := New(libs, sc, nil, "@hourly", nil)
	assert.True(t, s.ScanAll(ctx))

	// The missing root yields nothing; the healthy library still scans.
	var n int64
	require.NoError(t, db.Model(&models.MediaFile{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}
