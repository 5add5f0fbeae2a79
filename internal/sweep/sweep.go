/**
 * Temp Sweeper
 *
 * Transcoded images are written to the worker's temp directory and only
 * uploaded or kept copies are permanent. The sweeper deletes the worker's
 * own files (by name prefix) older than a maximum age on a cron schedule.
 */

package sweep

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

// Sweeper removes stale files from one directory.
type Sweeper struct {
	dir    string
	prefix string
	maxAge time.Duration
	now    func() time.Time
	logger *logging.Logger
}

// NewSweeper creates a sweeper for the files in dir whose names start with
// prefix.
func NewSweeper(dir, prefix string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		dir:    dir,
		prefix: prefix,
		maxAge: maxAge,
		now:    time.Now,
		logger: logging.NewLogger("[Sweeper]"),
	}
}

// Sweep deletes prefixed files in dir last modified more than maxAge ago and
// returns how many were removed. Other files and subdirectories are left
// alone. A missing dir is not an error.
func (s *Sweeper) Sweep() (int, error) {
	if s.prefix == "" {
		return 0, errors.New("sweep prefix is required")
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", s.dir, err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), s.prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
}

// NewScheduler validates schedule (standard cron syntax or a descriptor such
// as "@every 15m") and registers the sweep.
func NewScheduler(schedule string, sweeper *Sweeper) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s := &Scheduler{cron: cron.New(), sweeper: sweeper}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	removed, err := s.sweeper.Sweep()
	if err != nil {
		s.sweeper.logger.Warn("Temp sweep finished with errors", "dir", s.sweeper.dir, "removed", removed, "error", err)
		return
	}
	if removed > 0 {
		s.sweeper.logger.Info("Temp sweep removed stale files", "dir", s.sweeper.dir, "removed", removed)
	}
}

// Start starts the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
