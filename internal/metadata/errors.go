package metadata

import (
	"errors"
	"fmt"
)

// Provider lookup errors.
var (
	// ErrInvalidExternalID is returned for malformed provider ids.
	ErrInvalidExternalID = errors.New("invalid external id")
	// ErrNoResults is returned when a search yields nothing.
	ErrNoResults = errors.New("no results")
	// ErrSeasonNotFound is returned when a show has no season with the
	// requested number.
	ErrSeasonNotFound = errors.New("season not found")
	// ErrEpisodeNotFound is returned when a season has no episode with
	// the requested number.
	ErrEpisodeNotFound = errors.New("episode not found")
)

// FailureKind tags the persistence site where a match write failed.
type FailureKind string

const (
	FailureSearch FailureKind = "search"
	// FailurePosterInsert is reserved for artwork persisted separately
	// from the media row. Poster and backdrop URLs currently ride the
	// media row itself, so those failures surface as FailureLazyInsert.
	FailurePosterInsert       FailureKind = "poster_insert"
	FailureLazyInsert         FailureKind = "lazy_insert"
	FailureGenreDecouple      FailureKind = "genre_decouple"
	FailureGenreAttach        FailureKind = "genre_attach"
	FailureGetOrInsertSeason  FailureKind = "get_or_insert_season"
	FailureGetOrInsertEpisode FailureKind = "get_or_insert_episode"
	FailureFileUpdate         FailureKind = "file_update"
	FailureCleanup            FailureKind = "cleanup"
)

// MatchError wraps a persistence error with the site it occurred at.
type MatchError struct {
	Kind FailureKind
	Err  error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match failed at %s: %v", e.Kind, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

func matchErr(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &MatchError{Kind: kind, Err: err}
}
