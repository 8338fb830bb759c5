package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// acquireSlot blocks until the session owns one encoder slot. Must be
// called without holding s.mu; creation queues here when the process-wide
// encoder cap is reached.
func (m *Manager) acquireSlot(ctx context.Context, s *Session) error {
	s.mu.Lock()
	held := s.holdsSlot
	s.mu.Unlock()
	if held {
		return nil
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	}

	s.mu.Lock()
	if s.holdsSlot {
		// Lost the race against another starter; return the spare.
		s.mu.Unlock()
		<-m.sem
		return nil
	}
	s.holdsSlot = true
	s.mu.Unlock()
	return nil
}

// releaseSlotLocked frees the session's encoder slot. Callers hold s.mu.
func (m *Manager) releaseSlotLocked(s *Session) {
	if s.holdsSlot {
		s.holdsSlot = false
		<-m.sem
	}
}

// startLocked spawns the encoder for the session's current profile.
// Callers hold s.mu and the session's encoder slot.
func (m *Manager) startLocked(s *Session) error {
	for s.profileIdx < len(s.chain) {
		profile := s.chain[s.profileIdx]
		cmd := exec.Command(m.cfg.FFmpegBin, profile.Args(s.pctx)...) //nolint:gosec // argv assembled from config and probe data
		cmd.Dir = s.outdir
		cmd.Stderr = s.stderr

		if err := cmd.Start(); err != nil {
			m.logger.Warn("encoder spawn failed, advancing chain",
				slog.String("stream_id", s.ID),
				slog.String("profile", string(profile.Kind)),
				slog.String("error", err.Error()),
			)
			s.profileIdx++
			continue
		}

		s.child = cmd
		s.state = StateRunning
		s.completed = false
		gen := s.generation

		m.logger.Info("encoder started",
			slog.String("stream_id", s.ID),
			slog.String("profile", string(profile.Kind)),
			slog.Uint64("start_number", uint64(s.pctx.StartNumber)),
			slog.Int("pid", cmd.Process.Pid),
		)

		m.wg.Add(1)
		go m.monitor(s, cmd, gen)
		return nil
	}

	s.state = StateErrored
	s.child = nil
	m.releaseSlotLocked(s)
	return fmt.Errorf("%w: chain exhausted for stream %s", ErrNoProfileApplicable, s.ID)
}

// monitor observes one child's exit and drives chain failover. The
// generation captured at spawn time guards against acting on a child
// that a hard seek or die already replaced.
func (m *Manager) monitor(s *Session, cmd *exec.Cmd, gen uint64) {
	defer m.wg.Done()

	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || s.child != cmd {
		// A hard seek or die superseded this child; its killer did the
		// bookkeeping already.
		return
	}
	s.child = nil

	if err == nil {
		s.completed = true
		m.releaseSlotLocked(s)
		m.logger.Info("encoder finished", slog.String("stream_id", s.ID))
		return
	}

	if s.state != StateRunning {
		m.releaseSlotLocked(s)
		return
	}

	// Profile failure: advance the chain and respawn, or error out.
	m.logger.Warn("encoder exited with failure, advancing chain",
		slog.String("stream_id", s.ID),
		slog.Int("profile_index", s.profileIdx),
		slog.String("error", err.Error()),
	)
	s.profileIdx++
	if startErr := m.startLocked(s); startErr != nil {
		m.logger.Error("session errored",
			slog.String("stream_id", s.ID),
			slog.String("error", startErr.Error()),
		)
	}
}

// killChildLocked terminates the session's child, if any. Callers hold
// s.mu and must have bumped the generation or changed the state first so
// the monitor goroutine does not re-handle the exit.
func (m *Manager) killChildLocked(s *Session) {
	if s.child == nil {
		return
	}
	if s.child.Process != nil {
		_ = s.child.Process.Kill()
	}
	s.child = nil
}

// hardSeekLocked restarts the encoder at the requested segment. Callers
// hold s.mu and the session's encoder slot. The generation bump plus
// outdir sweep guarantees late writes from the old child cannot satisfy
// requests against the new start number.
func (m *Manager) hardSeekLocked(s *Session, n uint32) error {
	s.generation++
	m.killChildLocked(s)
	sweepSegments(s.outdir)

	s.startNumber = n
	s.lastHardSeek = n
	s.pctx.StartNumber = n
	s.completed = false

	m.logger.Info("hard seek",
		slog.String("stream_id", s.ID),
		slog.Uint64("chunk", uint64(n)),
	)
	return m.startLocked(s)
}

// sweepSegments removes produced artifacts from an outdir so the next
// child starts against a clean slate.
func sweepSegments(outdir string) {
	entries, err := os.ReadDir(outdir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".m4s") || name == "init.mp4" || name == "playlist.mpd" {
			_ = os.Remove(filepath.Join(outdir, name))
		}
	}
}

// producedIndex returns the highest segment number present in the outdir,
// or -1 when none exist. The highest segment may still be mid-write; only
// segments strictly below it are guaranteed complete while the encoder runs.
func producedIndex(outdir string) int64 {
	entries, err := os.ReadDir(outdir)
	if err != nil {
		return -1
	}
	max := int64(-1)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".m4s") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(name, ".m4s"), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}
