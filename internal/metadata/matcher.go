package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"gorm.io/gorm"

	"github.com/lumoware/lumo/internal/models"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/scanner"
)

// Matcher resolves scanned work units against a metadata provider and
// persists the results. Provider lookups run in parallel; all writes per
// unit go through one transaction so a half-matched file never persists.
type Matcher struct {
	db       *gorm.DB
	provider Provider
	logger   *slog.Logger

	// lookupLimit caps parallel provider lookups per batch.
	lookupLimit int
}

// NewMatcher creates a matcher writing through db.
func NewMatcher(db *gorm.DB, provider Provider, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		db:          db,
		provider:    provider,
		logger:      logger.With(slog.String("component", "matcher")),
		lookupLimit: 8,
	}
}

// WithLookupLimit overrides the parallel provider lookup cap.
func (m *Matcher) WithLookupLimit(n int) *Matcher {
	if n > 0 {
		m.lookupLimit = n
	}
	return m
}

// resolved is one work unit's provider lookup outcome.
type resolved struct {
	unit scanner.WorkUnit

	// movie path
	movie *ExternalMedia

	// tv path
	show         *ExternalMedia
	season       *ExternalSeason
	episode      *ExternalEpisode
	episodeMeta  scanner.Metadata
	seasonNumber int

	err error
}

// MatchBatch matches every work unit of one library scan. Individual unit
// failures are logged and skipped; the batch never aborts. Returns the
// number of units successfully matched.
func (m *Matcher) MatchBatch(ctx context.Context, lib *models.Library, units []scanner.WorkUnit) int {
	if len(units) == 0 {
		return 0
	}

	// Phase 1: provider lookups, parallel and independent.
	results := make([]*resolved, len(units))
	p := pool.New().WithMaxGoroutines(m.lookupLimit)
	for i, unit := range units {
		p.Go(func() {
			results[i] = m.lookup(ctx, lib, unit)
		})
	}
	p.Wait()

	// Phase 2: database writes, serialized through one writer.
	matched := 0
	for _, r := range results {
		if r.err != nil {
			m.logger.Warn("match lookup failed",
				slog.String("file", r.unit.File.TargetFile),
				slog.String("error", r.err.Error()),
			)
			continue
		}
		if err := m.persist(ctx, lib, r); err != nil {
			m.logger.Warn("match persist failed",
				slog.String("file", r.unit.File.TargetFile),
				slog.String("error", err.Error()),
			)
			continue
		}
		matched++
	}

	m.logger.Info("batch matched",
		slog.String("library", lib.Name),
		slog.Int("total", len(units)),
		slog.Int("matched", matched),
	)
	return matched
}

// lookup tries each candidate in order until the provider resolves one.
func (m *Matcher) lookup(ctx context.Context, lib *models.Library, unit scanner.WorkUnit) *resolved {
	r := &resolved{unit: unit}

	var lastErr error
	for _, candidate := range unit.Candidates {
		var err error
		if lib.Kind == models.LibraryTv {
			err = m.lookupEpisode(ctx, candidate, r)
		} else {
			err = m.lookupMovie(ctx, candidate, r)
		}
		if err == nil {
			return r
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrNoResults
	}
	r.err = matchErr(FailureSearch, lastErr)
	return r
}

func (m *Matcher) lookupMovie(ctx context.Context, candidate scanner.Metadata, r *resolved) error {
	hits, err := m.provider.SearchMovies(ctx, candidate.Name, candidate.Year)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return fmt.Errorf("%w: %q", ErrNoResults, candidate.Name)
	}
	r.movie = &hits[0]
	return nil
}

func (m *Matcher) lookupEpisode(ctx context.Context, candidate scanner.Metadata, r *resolved) error {
	hits, err := m.provider.SearchTVShows(ctx, candidate.Name, candidate.Year)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return fmt.Errorf("%w: %q", ErrNoResults, candidate.Name)
	}
	show := hits[0]

	// Season 0 holds specials and extras; files without a parsed season
	// land there.
	wantSeason := 0
	if candidate.Season != nil {
		wantSeason = *candidate.Season
	}
	wantEpisode := 0
	if candidate.Episode != nil {
		wantEpisode = *candidate.Episode
	}

	seasons, err := m.provider.SeasonsForID(ctx, show.ExternalID)
	if err != nil {
		return err
	}
	var season *ExternalSeason
	for i := range seasons {
		if seasons[i].SeasonNumber == wantSeason {
			season = &seasons[i]
			break
		}
	}
	if season == nil {
		return fmt.Errorf("%w: %s season %d", ErrSeasonNotFound, show.Name, wantSeason)
	}

	episodes, err := m.provider.EpisodesForSeason(ctx, show.ExternalID, wantSeason)
	if err != nil {
		return err
	}
	var episode *ExternalEpisode
	for i := range episodes {
		if episodes[i].EpisodeNumber == wantEpisode {
			episode = &episodes[i]
			break
		}
	}
	if episode == nil {
		return fmt.Errorf("%w: %s S%02dE%02d", ErrEpisodeNotFound, show.Name, wantSeason, wantEpisode)
	}

	r.show = &show
	r.season = season
	r.episode = episode
	r.episodeMeta = candidate
	r.seasonNumber = wantSeason
	return nil
}

// persist writes one resolved unit inside a transaction.
func (m *Matcher) persist(ctx context.Context, lib *models.Library, r *resolved) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		media := repository.NewMediaRepository(tx)
		files := repository.NewMediaFileRepository(tx)

		if r.movie != nil {
			return m.persistMovie(ctx, lib, r, media, files)
		}
		return m.persistEpisode(ctx, lib, r, media, files)
	})
}

// persistMovie inserts or reuses the movie row, rebuilds its genres and
// rewires the file, cleaning up an orphaned previous match.
func (m *Matcher) persistMovie(ctx context.Context, lib *models.Library, r *resolved, media repository.MediaRepository, files repository.MediaFileRepository) error {
	movie := externalToMedia(lib.ID, models.MediaMovie, *r.movie)
	if err := media.LazyInsert(ctx, movie); err != nil {
		return matchErr(FailureLazyInsert, err)
	}

	if err := m.rebuildGenres(ctx, media, movie.ID, r.movie.Genres); err != nil {
		return err
	}

	previous := r.unit.File.MediaID
	if err := files.SetMediaID(ctx, r.unit.File.ID, movie.ID); err != nil {
		return matchErr(FailureFileUpdate, err)
	}
	r.unit.File.MediaID = &movie.ID

	if previous != nil && *previous != movie.ID {
		if err := m.cleanupOrphanMovie(ctx, media, files, *previous); err != nil {
			return err
		}
	}

	m.logger.Debug("movie matched",
		slog.String("file", r.unit.File.TargetFile),
		slog.String("title", movie.Name),
	)
	return nil
}

// persistEpisode inserts show, season and episode, rebuilds the show's
// genres and rewires the file, cleaning up the previous episode chain.
func (m *Matcher) persistEpisode(ctx context.Context, lib *models.Library, r *resolved, media repository.MediaRepository, files repository.MediaFileRepository) error {
	show := externalToMedia(lib.ID, models.MediaTvShow, *r.show)
	if err := media.LazyInsert(ctx, show); err != nil {
		return matchErr(FailureLazyInsert, err)
	}

	if err := m.rebuildGenres(ctx, media, show.ID, r.show.Genres); err != nil {
		return err
	}

	season := &models.Season{
		TvShowID:     show.ID,
		SeasonNumber: r.seasonNumber,
		Poster:       r.season.PosterURL,
	}
	if err := media.GetOrCreateSeason(ctx, season); err != nil {
		return matchErr(FailureGetOrInsertSeason, err)
	}

	wantEpisode := 0
	if r.episodeMeta.Episode != nil {
		wantEpisode = *r.episodeMeta.Episode
	}
	episode := &models.Media{
		LibraryID:   lib.ID,
		Type:        models.MediaEpisode,
		Name:        r.episode.Name,
		Description: r.episode.Description,
		Rating:      r.episode.Rating,
	}
	if episode.Name == "" {
		episode.Name = fmt.Sprintf("Episode %d", wantEpisode)
	}
	if err := media.GetOrCreateEpisode(ctx, episode, season.ID, wantEpisode); err != nil {
		return matchErr(FailureGetOrInsertEpisode, err)
	}

	previous := r.unit.File.MediaID
	if err := files.SetMediaID(ctx, r.unit.File.ID, episode.ID); err != nil {
		return matchErr(FailureFileUpdate, err)
	}
	r.unit.File.MediaID = &episode.ID

	if previous != nil && *previous != episode.ID {
		if err := m.cleanupOrphanEpisode(ctx, media, files, *previous); err != nil {
			return err
		}
	}

	m.logger.Debug("episode matched",
		slog.String("file", r.unit.File.TargetFile),
		slog.String("show", show.Name),
		slog.Int("season", r.seasonNumber),
		slog.Int("episode", wantEpisode),
	)
	return nil
}

// rebuildGenres drops every genre link and re-attaches the provider's set.
func (m *Matcher) rebuildGenres(ctx context.Context, media repository.MediaRepository, mediaID models.ULID, names []string) error {
	if err := media.DecoupleGenres(ctx, mediaID); err != nil {
		return matchErr(FailureGenreDecouple, err)
	}
	for _, name := range names {
		genre, err := media.GetOrCreateGenre(ctx, name)
		if err != nil {
			return matchErr(FailureGenreAttach, err)
		}
		if err := media.AttachGenre(ctx, mediaID, genre.ID); err != nil {
			return matchErr(FailureGenreAttach, err)
		}
	}
	return nil
}

// cleanupOrphanMovie deletes a previously matched movie that no file
// references anymore.
func (m *Matcher) cleanupOrphanMovie(ctx context.Context, media repository.MediaRepository, files repository.MediaFileRepository, id models.ULID) error {
	count, err := files.CountByMediaID(ctx, id)
	if err != nil {
		return matchErr(FailureCleanup, err)
	}
	if count > 0 {
		return nil
	}
	if err := media.Delete(ctx, id); err != nil {
		return matchErr(FailureCleanup, err)
	}
	return nil
}

// cleanupOrphanEpisode walks episode, season and show, deleting each
// level whose child count dropped to zero.
func (m *Matcher) cleanupOrphanEpisode(ctx context.Context, media repository.MediaRepository, files repository.MediaFileRepository, id models.ULID) error {
	count, err := files.CountByMediaID(ctx, id)
	if err != nil {
		return matchErr(FailureCleanup, err)
	}
	if count > 0 {
		return nil
	}

	side, err := media.GetEpisode(ctx, id)
	if err != nil {
		return matchErr(FailureCleanup, err)
	}
	if err := media.Delete(ctx, id); err != nil {
		return matchErr(FailureCleanup, err)
	}
	if side == nil {
		return nil
	}

	episodes, err := media.CountSeasonEpisodes(ctx, side.SeasonID)
	if err != nil {
		return matchErr(FailureCleanup, err)
	}
	if episodes > 0 {
		return nil
	}
	season, err := media.GetSeason(ctx, side.SeasonID)
	if err != nil {
		return matchErr(FailureCleanup, err)
	}
	if err := media.DeleteSeason(ctx, side.SeasonID); err != nil {
		return matchErr(FailureCleanup, err)
	}
	if season == nil {
		return nil
	}

	seasons, err := media.CountShowSeasons(ctx, season.TvShowID)
	if err != nil {
		return matchErr(FailureCleanup, err)
	}
	if seasons > 0 {
		return nil
	}
	if err := media.Delete(ctx, season.TvShowID); err != nil {
		return matchErr(FailureCleanup, err)
	}
	return nil
}

// externalToMedia maps a provider hit onto a Media row for lazy insert.
func externalToMedia(libraryID models.ULID, kind models.MediaType, ext ExternalMedia) *models.Media {
	return &models.Media{
		LibraryID:   libraryID,
		Type:        kind,
		Name:        ext.Name,
		Description: ext.Description,
		Rating:      ext.Rating,
		Year:        ext.Year,
		Poster:      ext.PosterURL,
		Backdrop:    ext.BackdropURL,
	}
}
