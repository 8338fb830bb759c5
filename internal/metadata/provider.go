// Package metadata matches scanned files against an external metadata
// provider and persists the results.
package metadata

import "context"

// ExternalMedia is a provider search hit for a movie or tv show.
type ExternalMedia struct {
	ExternalID  string
	Name        string
	Description string
	Rating      *float64
	Year        *int
	PosterURL   string
	BackdropURL string
	Genres      []string
}

// ExternalSeason is one season of a provider tv show.
type ExternalSeason struct {
	SeasonNumber int
	Name         string
	PosterURL    string
}

// ExternalEpisode is one episode of a provider season.
type ExternalEpisode struct {
	EpisodeNumber int
	Name          string
	Description   string
	Rating        *float64
}

// Provider looks up movies and tv shows in an external metadata source.
// Implementations must be safe for concurrent use.
type Provider interface {
	// SearchMovies returns movie hits for a title, best match first.
	SearchMovies(ctx context.Context, name string, year *int) ([]ExternalMedia, error)
	// SearchTVShows returns tv show hits for a title, best match first.
	SearchTVShows(ctx context.Context, name string, year *int) ([]ExternalMedia, error)
	// SeasonsForID lists the seasons of a show by its external id.
	SeasonsForID(ctx context.Context, externalID string) ([]ExternalSeason, error)
	// EpisodesForSeason lists the episodes of one season of a show.
	EpisodesForSeason(ctx context.Context, externalID string, seasonNumber int) ([]ExternalEpisode, error)
}
