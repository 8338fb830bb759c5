package streaming

import "errors"

// Session manager errors.
var (
	// ErrChunkNotDone is returned when a requested segment is not on disk
	// yet. Transient: callers retry or fail their own deadline.
	ErrChunkNotDone = errors.New("chunk not done")
	// ErrSessionErrored is returned when the session exhausted its profile
	// chain without producing output.
	ErrSessionErrored = errors.New("session errored")
	// ErrUnknownStream is returned for stream ids this manager never
	// allocated or has already reaped.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrUnknownGroup is returned for group ids with no registered manifests.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrNoProfileApplicable is returned when a chain is empty after
	// filtering, so no encoder configuration can serve the session.
	ErrNoProfileApplicable = errors.New("no profile applicable")
)
