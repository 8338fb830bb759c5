// Package streaming implements the session manager core: ownership of
// encoder child processes, on-disk segment progress, hard seeks, idle
// reaping, and the await-until-ready interface for individual segments.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Readiness polling parameters. The encoder reports nothing back; progress
// is observed as files appearing on disk, which tolerates encoder crashes
// and restarts without a protocol.
const (
	pollInterval      = 100 * time.Millisecond
	chunkPollTicks    = 100
	subtitlePollTicks = 200
)

// Config holds streaming session manager configuration.
type Config struct {
	// StateDir is the root under which per-stream outdirs are created.
	StateDir string
	// FFmpegBin is the encoder binary path.
	FFmpegBin string
	// EnableHWAccel gates hardware transcode profiles.
	EnableHWAccel bool
	// HWDevice is the render device for hardware profiles.
	HWDevice string
	// TargetGOP is the segment duration.
	TargetGOP time.Duration
	// HardSeekDistance is the forward window in segments before a chunk
	// request restarts the encoder.
	HardSeekDistance uint32
	// MaxEncoders caps concurrently running encoder children.
	MaxEncoders int
	// ReapInterval is how often the idle reaper scans sessions.
	ReapInterval time.Duration
	// IdlePauseAfter pauses idle sessions (kill child, keep outdir).
	IdlePauseAfter time.Duration
	// IdleDeleteAfter stops idle sessions and removes their outdir.
	IdleDeleteAfter time.Duration
	// StderrRingSize bounds each session's encoder stderr ring.
	StderrRingSize int
	// DefaultQuality selects the default video track of a group:
	// "direct" or a resolution height like "1080".
	DefaultQuality string
}

// DefaultConfig returns sensible defaults for the session manager.
func DefaultConfig() Config {
	return Config{
		StateDir:         os.TempDir(),
		FFmpegBin:        "ffmpeg",
		TargetGOP:        10 * time.Second,
		HardSeekDistance: 10,
		MaxEncoders:      4,
		ReapInterval:     30 * time.Second,
		IdlePauseAfter:   2 * time.Minute,
		IdleDeleteAfter:  10 * time.Minute,
		StderrRingSize:   64 * 1024,
		DefaultQuality:   "direct",
	}
}

// Manager owns all streaming sessions, keyed by stream id. Sessions and
// groups are addressed by id only; callers never hold direct references.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	groups   map[uuid.UUID]*ManifestGroup

	// sem caps concurrently running encoder children process-wide.
	sem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager and starts its idle reaper.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEncoders <= 0 {
		cfg.MaxEncoders = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "streaming")),
		sessions: make(map[string]*Session),
		groups:   make(map[uuid.UUID]*ManifestGroup),
		sem:      make(chan struct{}, cfg.MaxEncoders),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// Create registers a new Idle session for the given profile chain. No
// child is spawned until the first chunk request or an explicit Start.
// Stream ids are unique per manager instance and never reused.
func (m *Manager) Create(chain []Profile, pctx ProfileContext) (string, error) {
	chain = FilterChain(chain, pctx, m.cfg.EnableHWAccel)
	if len(chain) == 0 {
		return "", ErrNoProfileApplicable
	}

	id := uuid.NewString()
	outdir := filepath.Join(m.cfg.StateDir, id)
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return "", fmt.Errorf("creating stream outdir: %w", err)
	}

	pctx.OutDir = outdir
	if pctx.TargetGOP == 0 {
		pctx.TargetGOP = m.cfg.TargetGOP
	}
	if pctx.HWDevice == "" {
		pctx.HWDevice = m.cfg.HWDevice
	}

	s := &Session{
		ID:         id,
		state:      StateIdle,
		chain:      chain,
		pctx:       pctx,
		stderr:     NewRing(m.cfg.StderrRingSize),
		outdir:     outdir,
		lastAccess: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Debug("session created",
		slog.String("stream_id", id),
		slog.Int("chain_length", len(chain)),
	)
	return id, nil
}

// session looks up a session by id.
func (m *Manager) session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return s, nil
}

// Start spawns the session's encoder if it has not started yet.
func (m *Manager) Start(ctx context.Context, id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return m.ensureRunning(ctx, s, 0)
}

// ensureRunning transitions an Idle or Paused session to Running with the
// given start number, applying a hard seek to a Running session whose
// window does not cover n.
func (m *Manager) ensureRunning(ctx context.Context, s *Session, n uint32) error {
	if err := m.acquireSlot(ctx, s); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	switch s.state {
	case StateErrored:
		m.releaseSlotLocked(s)
		return fmt.Errorf("%w: %s", ErrSessionErrored, s.ID)
	case StateStopped:
		m.releaseSlotLocked(s)
		return fmt.Errorf("%w: %s", ErrUnknownStream, s.ID)
	case StateRunning:
		if s.child == nil && s.completed {
			// Finished encoder: only restart when the request falls
			// outside what the completed run produced.
			if n >= s.startNumber && int64(n) <= producedIndex(s.outdir) {
				m.releaseSlotLocked(s)
				return nil
			}
			return m.hardSeekLocked(s, n)
		}
		if m.outsideWindowLocked(s, n) {
			return m.hardSeekLocked(s, n)
		}
		return nil
	case StateIdle, StatePaused:
		if s.isSubtitle() {
			n = 0 // subtitle extraction always runs whole-file
		}
		s.startNumber = n
		s.pctx.StartNumber = n
		sweepSegments(s.outdir)
		return m.startLocked(s)
	default:
		m.releaseSlotLocked(s)
		return fmt.Errorf("%w: %s", ErrUnknownStream, s.ID)
	}
}

// outsideWindowLocked reports whether n falls outside the producing
// window of the running child. Callers hold s.mu.
func (m *Manager) outsideWindowLocked(s *Session, n uint32) bool {
	return n < s.startNumber || n >= s.startNumber+m.cfg.HardSeekDistance
}

// ChunkRequest resolves segment n of the stream to a file path, starting
// or hard-seeking the encoder as needed and waiting until the segment is
// fully produced. Fails with ErrChunkNotDone after the polling cap.
func (m *Manager) ChunkRequest(ctx context.Context, id string, n uint32) (string, error) {
	s, err := m.session(id)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.outdir, fmt.Sprintf("%d.m4s", n))
	if s.chunkReady(n, path) {
		s.mu.Lock()
		s.touch()
		errored := s.state == StateErrored
		s.mu.Unlock()
		if errored {
			// Leftover segments from before the chain exhausted are
			// not served.
			return "", fmt.Errorf("%w: %s", ErrSessionErrored, s.ID)
		}
		return path, nil
	}

	if err := m.ensureRunning(ctx, s, n); err != nil {
		return "", err
	}

	return m.awaitFile(ctx, s, chunkPollTicks, func() bool {
		return s.chunkReady(n, path)
	}, path)
}

// ChunkInitRequest resolves the init segment, spawning the encoder at
// startNum when the session has not started yet.
func (m *Manager) ChunkInitRequest(ctx context.Context, id string, startNum uint32) (string, error) {
	s, err := m.session(id)
	if err != nil {
		return "", err
	}

	if err := m.ensureRunning(ctx, s, startNum); err != nil {
		return "", err
	}

	path := filepath.Join(s.outdir, "init.mp4")
	return m.awaitFile(ctx, s, chunkPollTicks, func() bool {
		return fileNonEmpty(path)
	}, path)
}

// GetSub resolves a produced subtitle file by name. Subtitle streams run
// to completion once; the result is only served after a clean exit.
func (m *Manager) GetSub(ctx context.Context, id, name string) (string, error) {
	s, err := m.session(id)
	if err != nil {
		return "", err
	}
	if name != filepath.Base(name) {
		return "", fmt.Errorf("%w: invalid subtitle name %q", ErrUnknownStream, name)
	}

	if err := m.ensureRunning(ctx, s, 0); err != nil {
		return "", err
	}

	path := filepath.Join(s.outdir, name)
	return m.awaitFile(ctx, s, subtitlePollTicks, func() bool {
		_, _, _, done := s.snapshot()
		return done && fileNonEmpty(path)
	}, path)
}

// awaitFile polls ready at the poll interval up to ticks times. The wait
// suspends cooperatively between polls; dropping ctx mid-poll has no side
// effects on the session.
func (m *Manager) awaitFile(ctx context.Context, s *Session, ticks int, ready func() bool, path string) (string, error) {
	timer := time.NewTicker(pollInterval)
	defer timer.Stop()

	for i := 0; i < ticks; i++ {
		if ready() {
			s.mu.Lock()
			s.touch()
			errored := s.state == StateErrored
			s.mu.Unlock()
			if errored {
				return "", fmt.Errorf("%w: %s", ErrSessionErrored, s.ID)
			}
			return path, nil
		}
		if s.State() == StateErrored {
			return "", fmt.Errorf("%w: %s", ErrSessionErrored, s.ID)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.ctx.Done():
			return "", m.ctx.Err()
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("%w: %s", ErrChunkNotDone, path)
}

// chunkReady reports whether segment n is fully produced for the current
// generation. While the encoder runs, only segments strictly below the
// highest on disk are complete; after a clean exit every produced segment
// counts.
func (s *Session) chunkReady(n uint32, path string) bool {
	_, gen, start, done := s.snapshot()
	if !fileNonEmpty(path) {
		return false
	}
	if n < start {
		// A file below the current start can only be a stale leftover.
		return false
	}
	max := producedIndex(s.outdir)
	ok := int64(n) < max || (done && int64(n) <= max)

	// The generation must not have moved while we looked at the disk.
	_, gen2, _, _ := s.snapshot()
	return ok && gen == gen2
}

// fileNonEmpty reports whether path exists with non-zero size.
func fileNonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}

// HasStarted reports whether the session ever spawned an encoder.
func (m *Manager) HasStarted(id string) (bool, error) {
	s, err := m.session(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle, nil
}

// IsDone reports whether the session's encoder ran to a clean exit.
func (m *Manager) IsDone(id string) (bool, error) {
	s, err := m.session(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, nil
}

// ShouldHardSeek reports whether requesting chunk n would restart the
// encoder: n lies before the current start or at/beyond the forward window.
func (m *Manager) ShouldHardSeek(id string, n uint32) (bool, error) {
	s, err := m.session(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		// Nothing producing yet; the first request starts at n directly.
		return false, nil
	}
	return m.outsideWindowLocked(s, n), nil
}

// GetStderr returns the recent stderr output of the session's encoder.
func (m *Manager) GetStderr(id string) (string, error) {
	s, err := m.session(id)
	if err != nil {
		return "", err
	}
	return s.stderr.String(), nil
}

// Die stops the session: the child is signalled and the session marked
// Stopped; the outdir stays for later cleanup by the reaper. Idempotent
// and non-blocking.
func (m *Manager) Die(id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return nil
	}
	s.generation++
	m.killChildLocked(s)
	m.releaseSlotLocked(s)
	s.state = StateStopped
	s.touch()

	m.logger.Info("session stopped", slog.String("stream_id", id))
	return nil
}

// reapLoop periodically pauses idle sessions and removes expired ones.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// reap applies the idleness policy across all sessions.
func (m *Manager) reap() {
	now := time.Now()

	m.mu.Lock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		s.mu.Lock()
		idle := now.Sub(s.lastAccess)

		switch {
		case idle > m.cfg.IdleDeleteAfter:
			s.generation++
			m.killChildLocked(s)
			m.releaseSlotLocked(s)
			s.state = StateStopped
			outdir := s.outdir
			s.mu.Unlock()

			m.mu.Lock()
			delete(m.sessions, s.ID)
			m.mu.Unlock()

			if err := os.RemoveAll(outdir); err != nil {
				m.logger.Warn("removing outdir failed",
					slog.String("stream_id", s.ID),
					slog.String("error", err.Error()),
				)
			}
			m.logger.Info("session reaped", slog.String("stream_id", s.ID))

		case idle > m.cfg.IdlePauseAfter && s.state == StateRunning:
			s.generation++
			m.killChildLocked(s)
			m.releaseSlotLocked(s)
			s.state = StatePaused
			s.mu.Unlock()
			m.logger.Info("session paused", slog.String("stream_id", s.ID))

		default:
			s.mu.Unlock()
		}
	}
}

// Shutdown stops the reaper, kills every child and waits for supervisor
// goroutines to drain.
func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.generation++
		m.killChildLocked(s)
		m.releaseSlotLocked(s)
		s.state = StateStopped
		s.mu.Unlock()
	}

	m.wg.Wait()
}
