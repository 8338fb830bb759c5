package streaming

import (
	"os/exec"
	"sync"
	"time"
)

// State is a session's lifecycle position.
type State string

const (
	// StateIdle means created but no child has been spawned yet.
	StateIdle State = "idle"
	// StateRunning means an encoder child owns the outdir.
	StateRunning State = "running"
	// StatePaused means the child was reaped for idleness; outdir kept.
	StatePaused State = "paused"
	// StateStopped means the session ended; outdir awaits cleanup.
	StateStopped State = "stopped"
	// StateErrored means the profile chain was exhausted.
	StateErrored State = "errored"
)

// Session is one encoder-backed output stream. All fields behind mu;
// state transitions are serialized per session so a hard seek begun at
// time T completes before any later request observes the new start.
type Session struct {
	// ID is the stream id handed to clients. Never reused.
	ID string

	mu sync.Mutex

	state      State
	chain      []Profile
	profileIdx int
	pctx       ProfileContext

	// child is the at-most-one live encoder process.
	child *exec.Cmd
	// generation increments on every hard seek so late writes from a
	// killed child cannot satisfy a new request.
	generation uint64
	// startNumber is the absolute segment index the current child began at.
	startNumber uint32
	// lastHardSeek remembers the segment that forced the last restart.
	lastHardSeek uint32
	// completed is set when a child ran to a clean exit.
	completed bool
	// holdsSlot tracks ownership of one encoder semaphore slot.
	holdsSlot bool

	lastAccess time.Time
	stderr     *Ring
	outdir     string
}

// touch refreshes the idle clock. Callers hold mu.
func (s *Session) touch() {
	s.lastAccess = time.Now()
}

// snapshot returns the fields a readiness poll needs without holding the
// lock across the wait.
func (s *Session) snapshot() (st State, gen uint64, start uint32, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.generation, s.startNumber, s.completed
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// isSubtitle reports whether this session extracts a subtitle stream.
// Subtitle streams run to completion once and are not seekable.
func (s *Session) isSubtitle() bool {
	for _, p := range s.chain {
		if p.Kind == SubtitleExtract {
			return true
		}
	}
	return false
}
