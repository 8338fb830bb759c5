package metadata

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumoware/lumo/internal/models"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/scanner"
)

// fakeProvider serves canned shows and movies keyed by search title.
type fakeProvider struct {
	movies map[string]ExternalMedia
	shows  map[string]fakeShow
}

type fakeShow struct {
	media    ExternalMedia
	seasons  []ExternalSeason
	episodes map[int][]ExternalEpisode
}

func (f *fakeProvider) SearchMovies(_ context.Context, name string, _ *int) ([]ExternalMedia, error) {
	if m, ok := f.movies[name]; ok {
		return []ExternalMedia{m}, nil
	}
	return nil, nil
}

func (f *fakeProvider) SearchTVShows(_ context.Context, name string, _ *int) ([]ExternalMedia, error) {
	if s, ok := f.shows[name]; ok {
		return []ExternalMedia{s.media}, nil
	}
	return nil, nil
}

func (f *fakeProvider) SeasonsForID(_ context.Context, externalID string) ([]ExternalSeason, error) {
	for _, s := range f.shows {
		if s.media.ExternalID == externalID {
			return s.seasons, nil
		}
	}
	return nil, ErrInvalidExternalID
}

func (f *fakeProvider) EpisodesForSeason(_ context.Context, externalID string, seasonNumber int) ([]ExternalEpisode, error) {
	for _, s := range f.shows {
		if s.media.ExternalID == externalID {
			return s.episodes[seasonNumber], nil
		}
	}
	return nil, ErrInvalidExternalID
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Library{},
		&models.MediaFile{},
		&models.Media{},
		&models.Season{},
		&models.Episode{},
		&models.Genre{},
	))
	return db
}

func testLibrary(t *testing.T, db *gorm.DB, kind models.LibraryKind) *models.Library {
	t.Helper()
	lib := &models.Library{Name: "Test", Location: "/library", Kind: kind}
	require.NoError(t, repository.NewLibraryRepository(db).Create(context.Background(), lib))
	return lib
}

func testFile(t *testing.T, db *gorm.DB, lib *models.Library, name string) *models.MediaFile {
	t.Helper()
	file := &models.MediaFile{
		LibraryID:  lib.ID,
		TargetFile: "/library/" + name,
		RawName:    name,
	}
	require.NoError(t, repository.NewMediaFileRepository(db).Create(context.Background(), file))
	return file
}

func episodeUnit(file *models.MediaFile, show string, season, episode int) scanner.WorkUnit {
	return scanner.WorkUnit{
		File:       file,
		Candidates: []scanner.Metadata{{Name: show, Season: &season, Episode: &episode}},
	}
}

func twoShowProvider() *fakeProvider {
	episodes := map[int][]ExternalEpisode{
		1: {
			{EpisodeNumber: 1, Name: "Pilot"},
			{EpisodeNumber: 2, Name: "Second"},
		},
	}
	seasons := []ExternalSeason{{SeasonNumber: 1, Name: "Season 1"}}
	return &fakeProvider{
		shows: map[string]fakeShow{
			"Show 1": {
				media:    ExternalMedia{ExternalID: "100", Name: "Show 1", Genres: []string{"Drama"}},
				seasons:  seasons,
				episodes: episodes,
			},
			"Show 2": {
				media:    ExternalMedia{ExternalID: "200", Name: "Show 2", Genres: []string{"Comedy"}},
				seasons:  seasons,
				episodes: episodes,
			},
		},
	}
}

func countMedia(t *testing.T, db *gorm.DB, kind models.MediaType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Media{}).Where("type = ?", kind).Count(&n).Error)
	return n
}

func countSeasons(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Season{}).Count(&n).Error)
	return n
}

func TestMatchTwoFilesSameEpisode(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryTv)
	m := NewMatcher(db, twoShowProvider(), nil)

	f1 := testFile(t, db, lib, "test.mp4")
	f2 := testFile(t, db, lib, "test2.mp4")

	matched := m.MatchBatch(context.Background(), lib, []scanner.WorkUnit{
		episodeUnit(f1, "Show 1", 1, 1),
		episodeUnit(f2, "Show 1", 1, 1),
	})
	require.Equal(t, 2, matched)

	assert.EqualValues(t, 1, countMedia(t, db, models.MediaTvShow))
	assert.EqualValues(t, 1, countSeasons(t, db))
	assert.EqualValues(t, 1, countMedia(t, db, models.MediaEpisode))

	files := repository.NewMediaFileRepository(db)
	got1, err := files.GetByID(context.Background(), f1.ID)
	require.NoError(t, err)
	got2, err := files.GetByID(context.Background(), f2.ID)
	require.NoError(t, err)
	require.NotNil(t, got1.MediaID)
	require.NotNil(t, got2.MediaID)
	assert.Equal(t, *got1.MediaID, *got2.MediaID, "both files point at the same episode")
}

func TestRematchOrphanCleanup(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryTv)
	m := NewMatcher(db, twoShowProvider(), nil)
	ctx := context.Background()

	f1 := testFile(t, db, lib, "test.mp4")
	f2 := testFile(t, db, lib, "test2.mp4")
	f3 := testFile(t, db, lib, "test3.mp4")

	require.Equal(t, 3, m.MatchBatch(ctx, lib, []scanner.WorkUnit{
		episodeUnit(f1, "Show 1", 1, 1),
		episodeUnit(f2, "Show 1", 1, 1),
		episodeUnit(f3, "Show 1", 1, 2),
	}))
	assert.EqualValues(t, 1, countMedia(t, db, models.MediaTvShow))
	assert.EqualValues(t, 2, countMedia(t, db, models.MediaEpisode))

	// f1 moves to Show 2; f2 still pins Show 1's episode 1.
	files := repository.NewMediaFileRepository(db)
	f1, err := files.GetByID(ctx, f1.ID)
	require.NoError(t, err)
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{
		episodeUnit(f1, "Show 2", 1, 1),
	}))
	assert.EqualValues(t, 2, countMedia(t, db, models.MediaTvShow), "Show 1 survives while referenced")

	// f2 moves too: Show 1's episode, season and the show itself vanish.
	f2, err = files.GetByID(ctx, f2.ID)
	require.NoError(t, err)
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{
		episodeUnit(f2, "Show 2", 1, 2),
	}))

	// f3 still references Show 1 episode 2, so Show 1 remains; move it last.
	f3, err = files.GetByID(ctx, f3.ID)
	require.NoError(t, err)
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{
		episodeUnit(f3, "Show 2", 1, 2),
	}))

	assert.EqualValues(t, 1, countMedia(t, db, models.MediaTvShow), "orphaned Show 1 chain removed")
	assert.EqualValues(t, 1, countSeasons(t, db))
	assert.EqualValues(t, 2, countMedia(t, db, models.MediaEpisode), "Show 2 has two episodes")
}

func TestMatchIdempotent(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryTv)
	m := NewMatcher(db, twoShowProvider(), nil)
	ctx := context.Background()

	f1 := testFile(t, db, lib, "test.mp4")
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{episodeUnit(f1, "Show 1", 1, 1)}))

	files := repository.NewMediaFileRepository(db)
	before, err := files.GetByID(ctx, f1.ID)
	require.NoError(t, err)

	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{episodeUnit(before, "Show 1", 1, 1)}))
	after, err := files.GetByID(ctx, f1.ID)
	require.NoError(t, err)

	assert.Equal(t, *before.MediaID, *after.MediaID, "rematching identical input keeps the id")
	assert.EqualValues(t, 1, countMedia(t, db, models.MediaTvShow))
	assert.EqualValues(t, 1, countSeasons(t, db))
	assert.EqualValues(t, 1, countMedia(t, db, models.MediaEpisode))
}

func TestMatchMovie(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryMovie)
	year := 1982
	rating := 8.1
	provider := &fakeProvider{
		movies: map[string]ExternalMedia{
			"Blade Runner": {
				ExternalID:  "42",
				Name:        "Blade Runner",
				Description: "A blade runner must pursue replicants.",
				Year:        &year,
				Rating:      &rating,
				Genres:      []string{"Science Fiction", "Thriller"},
			},
		},
	}
	m := NewMatcher(db, provider, nil)
	ctx := context.Background()

	f1 := testFile(t, db, lib, "br.mkv")
	matched := m.MatchBatch(ctx, lib, []scanner.WorkUnit{{
		File:       f1,
		Candidates: []scanner.Metadata{{Name: "Blade Runner", Year: &year}},
	}})
	require.Equal(t, 1, matched)

	assert.EqualValues(t, 1, countMedia(t, db, models.MediaMovie))

	var movie models.Media
	require.NoError(t, db.Preload("Genres").Where("type = ?", models.MediaMovie).First(&movie).Error)
	assert.Equal(t, "Blade Runner", movie.Name)
	require.NotNil(t, movie.Year)
	assert.Equal(t, 1982, *movie.Year)
	assert.Len(t, movie.Genres, 2)
}

func TestMatchFallsThroughCandidates(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryTv)
	m := NewMatcher(db, twoShowProvider(), nil)
	ctx := context.Background()

	one := 1
	f1 := testFile(t, db, lib, "s01e01.mp4")
	unit := scanner.WorkUnit{
		File: f1,
		Candidates: []scanner.Metadata{
			{Name: "s01e01", Season: &one, Episode: &one}, // garbage filename guess
			{Name: "Show 1", Season: &one, Episode: &one}, // directory guess
		},
	}
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{unit}))
	assert.EqualValues(t, 1, countMedia(t, db, models.MediaTvShow))
}

func TestMatchFailureSkipsUnit(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryTv)
	m := NewMatcher(db, twoShowProvider(), nil)
	ctx := context.Background()

	one := 1
	good := testFile(t, db, lib, "good.mp4")
	bad := testFile(t, db, lib, "bad.mp4")

	matched := m.MatchBatch(ctx, lib, []scanner.WorkUnit{
		{File: bad, Candidates: []scanner.Metadata{{Name: "No Such Show", Season: &one, Episode: &one}}},
		episodeUnit(good, "Show 1", 1, 1),
	})
	assert.Equal(t, 1, matched, "failures never abort the batch")

	files := repository.NewMediaFileRepository(db)
	gotBad, err := files.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Nil(t, gotBad.MediaID)
}

func TestGenreRebuild(t *testing.T) {
	db := testDB(t)
	lib := testLibrary(t, db, models.LibraryTv)
	provider := twoShowProvider()
	m := NewMatcher(db, provider, nil)
	ctx := context.Background()

	f1 := testFile(t, db, lib, "test.mp4")
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{episodeUnit(f1, "Show 1", 1, 1)}))

	// The provider changes its mind about the show's genres.
	show := provider.shows["Show 1"]
	show.media.Genres = []string{"Thriller", "Crime"}
	provider.shows["Show 1"] = show

	files := repository.NewMediaFileRepository(db)
	f1, err := files.GetByID(ctx, f1.ID)
	require.NoError(t, err)
	require.Equal(t, 1, m.MatchBatch(ctx, lib, []scanner.WorkUnit{episodeUnit(f1, "Show 1", 1, 1)}))

	var shows []models.Media
	require.NoError(t, db.Preload("Genres").Where("type = ?", models.MediaTvShow).Find(&shows).Error)
	require.Len(t, shows, 1)

	names := make([]string, 0, len(shows[0].Genres))
	for _, g := range shows[0].Genres {
		names = append(names, g.Name)
	}
	assert.ElementsMatch(t, []string{"Thriller", "Crime"}, names, "genre links are rebuilt, not appended")
}

func TestMatchErrorKinds(t *testing.T) {
	err := matchErr(FailureGenreDecouple, fmt.Errorf("boom"))
	var me *MatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, FailureGenreDecouple, me.Kind)
	assert.Nil(t, matchErr(FailureCleanup, nil))
}
