package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	// w500 posters and w1280 backdrops are plenty for client UIs and keep
	// asset URLs off the "original" size.
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
)

// TMDBProvider implements Provider against The Movie Database v3 API.
type TMDBProvider struct {
	apiKey   string
	language string
	httpc    *http.Client
	logger   *slog.Logger

	// rate limiting
	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration

	// genre id-to-name tables, fetched once per kind
	genreMu    sync.Mutex
	genreCache map[string]map[int64]string
}

// NewTMDBProvider creates a TMDB-backed metadata provider.
func NewTMDBProvider(apiKey string, logger *slog.Logger) *TMDBProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TMDBProvider{
		apiKey:      strings.TrimSpace(apiKey),
		language:    "en",
		httpc:       &http.Client{Timeout: 15 * time.Second},
		logger:      logger.With(slog.String("component", "tmdb")),
		minInterval: 20 * time.Millisecond,
	}
}

// WithLanguage sets the preferred metadata language (ISO 639-1).
func (p *TMDBProvider) WithLanguage(lang string) *TMDBProvider {
	if lang != "" {
		p.language = lang
	}
	return p
}

// WithTimeout overrides the per-request HTTP timeout.
func (p *TMDBProvider) WithTimeout(d time.Duration) *TMDBProvider {
	if d > 0 {
		p.httpc.Timeout = d
	}
	return p
}

// doGET performs a rate-limited GET with retry and exponential backoff.
func (p *TMDBProvider) doGET(ctx context.Context, endpoint string, query url.Values, v any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", p.apiKey)
	query.Set("language", p.language)
	full := tmdbBaseURL + endpoint + "?" + query.Encode()

	var lastErr error
	backoff := 300 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		p.throttleMu.Lock()
		since := time.Since(p.lastRequest)
		if since < p.minInterval {
			time.Sleep(p.minInterval - since)
		}
		p.lastRequest = time.Now()
		p.throttleMu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return err
		}

		resp, err := p.httpc.Do(req)
		if err != nil {
			lastErr = err
			p.logger.Warn("http error", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
			if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
			backoff *= 2
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("tmdb request failed: %s", resp.Status)
			p.logger.Warn("retryable status", slog.Int("attempt", attempt+1), slog.Int("status", resp.StatusCode))
			if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
			backoff *= 2
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("tmdb request failed: %s", resp.Status)
		}

		err = json.NewDecoder(resp.Body).Decode(v)
		resp.Body.Close()
		return err
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int64   `json:"id"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		Overview     string  `json:"overview"`
		PosterPath   string  `json:"poster_path"`
		BackdropPath string  `json:"backdrop_path"`
		VoteAverage  float64 `json:"vote_average"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		GenreIDs     []int64 `json:"genre_ids"`
	} `json:"results"`
}

type tmdbShowResponse struct {
	Seasons []struct {
		SeasonNumber int    `json:"season_number"`
		Name         string `json:"name"`
		PosterPath   string `json:"poster_path"`
	} `json:"seasons"`
}

type tmdbSeasonResponse struct {
	Episodes []struct {
		EpisodeNumber int     `json:"episode_number"`
		Name          string  `json:"name"`
		Overview      string  `json:"overview"`
		VoteAverage   float64 `json:"vote_average"`
	} `json:"episodes"`
}

type tmdbGenreResponse struct {
	Genres []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

// SearchMovies implements Provider.
func (p *TMDBProvider) SearchMovies(ctx context.Context, name string, year *int) ([]ExternalMedia, error) {
	return p.search(ctx, "/search/movie", "movie", name, year)
}

// SearchTVShows implements Provider.
func (p *TMDBProvider) SearchTVShows(ctx context.Context, name string, year *int) ([]ExternalMedia, error) {
	return p.search(ctx, "/search/tv", "tv", name, year)
}

func (p *TMDBProvider) search(ctx context.Context, endpoint, kind, name string, year *int) ([]ExternalMedia, error) {
	query := url.Values{"query": {name}}
	if year != nil {
		if kind == "movie" {
			query.Set("year", strconv.Itoa(*year))
		} else {
			query.Set("first_air_date_year", strconv.Itoa(*year))
		}
	}

	var resp tmdbSearchResponse
	if err := p.doGET(ctx, endpoint, query, &resp); err != nil {
		return nil, err
	}

	genres, err := p.genreNames(ctx, kind)
	if err != nil {
		p.logger.Warn("genre list unavailable", slog.String("error", err.Error()))
		genres = map[int64]string{}
	}

	media := make([]ExternalMedia, 0, len(resp.Results))
	for _, r := range resp.Results {
		m := ExternalMedia{
			ExternalID:  strconv.FormatInt(r.ID, 10),
			Name:        r.Title,
			Description: r.Overview,
		}
		if m.Name == "" {
			m.Name = r.Name
		}
		if r.VoteAverage > 0 {
			rating := r.VoteAverage
			m.Rating = &rating
		}
		if y := releaseYear(r.ReleaseDate, r.FirstAirDate); y != 0 {
			m.Year = &y
		}
		if r.PosterPath != "" {
			m.PosterURL = tmdbImageBaseURL + "/" + tmdbPosterSize + r.PosterPath
		}
		if r.BackdropPath != "" {
			m.BackdropURL = tmdbImageBaseURL + "/" + tmdbBackdropSize + r.BackdropPath
		}
		for _, gid := range r.GenreIDs {
			if name, ok := genres[gid]; ok {
				m.Genres = append(m.Genres, name)
			}
		}
		media = append(media, m)
	}
	return media, nil
}

// SeasonsForID implements Provider.
func (p *TMDBProvider) SeasonsForID(ctx context.Context, externalID string) ([]ExternalSeason, error) {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExternalID, externalID)
	}

	var resp tmdbShowResponse
	if err := p.doGET(ctx, fmt.Sprintf("/tv/%d", id), nil, &resp); err != nil {
		return nil, err
	}

	seasons := make([]ExternalSeason, 0, len(resp.Seasons))
	for _, s := range resp.Seasons {
		season := ExternalSeason{SeasonNumber: s.SeasonNumber, Name: s.Name}
		if s.PosterPath != "" {
			season.PosterURL = tmdbImageBaseURL + "/" + tmdbPosterSize + s.PosterPath
		}
		seasons = append(seasons, season)
	}
	return seasons, nil
}

// EpisodesForSeason implements Provider.
func (p *TMDBProvider) EpisodesForSeason(ctx context.Context, externalID string, seasonNumber int) ([]ExternalEpisode, error) {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExternalID, externalID)
	}

	var resp tmdbSeasonResponse
	if err := p.doGET(ctx, fmt.Sprintf("/tv/%d/season/%d", id, seasonNumber), nil, &resp); err != nil {
		return nil, err
	}

	episodes := make([]ExternalEpisode, 0, len(resp.Episodes))
	for _, e := range resp.Episodes {
		episode := ExternalEpisode{
			EpisodeNumber: e.EpisodeNumber,
			Name:          e.Name,
			Description:   e.Overview,
		}
		if e.VoteAverage > 0 {
			rating := e.VoteAverage
			episode.Rating = &rating
		}
		episodes = append(episodes, episode)
	}
	return episodes, nil
}

// genreNames fetches and caches the id-to-name genre table per kind.
func (p *TMDBProvider) genreNames(ctx context.Context, kind string) (map[int64]string, error) {
	p.genreMu.Lock()
	defer p.genreMu.Unlock()
	if cached, ok := p.genreCache[kind]; ok {
		return cached, nil
	}

	var resp tmdbGenreResponse
	if err := p.doGET(ctx, "/genre/"+kind+"/list", nil, &resp); err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(resp.Genres))
	for _, g := range resp.Genres {
		names[g.ID] = g.Name
	}
	if p.genreCache == nil {
		p.genreCache = make(map[string]map[int64]string)
	}
	p.genreCache[kind] = names
	return names, nil
}

func releaseYear(dates ...string) int {
	for _, d := range dates {
		if len(d) >= 4 {
			if y, err := strconv.Atoi(d[:4]); err == nil {
				return y
			}
		}
	}
	return 0
}
