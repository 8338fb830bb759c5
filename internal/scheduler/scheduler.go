// Package scheduler runs periodic library rescans on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lumoware/lumo/internal/metadata"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/scanner"
)

// Scheduler wires the scanner and matcher to a cron timetable. One scan
// pass runs at a time; a tick that lands mid-pass is skipped.
type Scheduler struct {
	libraries repository.LibraryRepository
	scanner   *scanner.Scanner
	matcher   *metadata.Matcher
	logger    *slog.Logger
	schedule  string

	cron *cron.Cron

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. schedule is a five-field cron expression.
func New(libraries repository.LibraryRepository, sc *scanner.Scanner, m *metadata.Matcher, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		libraries: libraries,
		scanner:   sc,
		matcher:   m,
		logger:    logger.With(slog.String("component", "scheduler")),
		schedule:  schedule,
		cron:      cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start validates the schedule and begins ticking.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.ScanAll(s.ctx)
	}); err != nil {
		return fmt.Errorf("invalid scan schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("rescan schedule active", slog.String("schedule", s.schedule))
	return nil
}

// Stop halts future ticks and waits for a running cron job to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// ScanAll scans and matches every library once. Safe to call directly for
// a startup or on-demand scan. Returns false when a pass was already
// running and this one was skipped.
func (s *Scheduler) ScanAll(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("scan pass already running, skipping tick")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	libs, err := s.libraries.List(ctx)
	if err != nil {
		s.logger.Error("listing libraries failed", slog.String("error", err.Error()))
		return true
	}

	for _, lib := range libs {
		if ctx.Err() != nil {
			return true
		}
		units, err := s.scanner.ScanLibrary(ctx, lib)
		if err != nil {
			s.logger.Error("library scan failed",
				slog.String("library", lib.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.matcher != nil && len(units) > 0 {
			s.matcher.MatchBatch(ctx, lib, units)
		}
	}
	return true
}
