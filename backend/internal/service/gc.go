package service

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/picrelay/picrelay/shared/logger"
)

// StagingSweeper removes staged files that no reference still owes to the
// chat service: leftovers of crashed requests and replaced re-submissions.
type StagingSweeper struct {
	storage         SweepStorage
	staging         SweepStaging
	safetyThreshold time.Duration

	mu        sync.Mutex
	lastStats SweepStats
}

// SweepStats describes the last sweep.
type SweepStats struct {
	RunAt         time.Time
	FilesScanned  int
	OrphanedFiles int
	FilesDeleted  int
	DurationMs    int64
	Errors        []string
}

type SweepStorage interface {
	StagedPaths(ctx context.Context) ([]string, error)
}

type SweepStaging interface {
	WalkFiles() ([]string, error)
	GetFileModTime(path string) (time.Time, error)
	DeleteFile(path string) error
}

// NewStagingSweeper creates a sweeper. Files younger than safetyThreshold
// are kept even when unreferenced, since their reference may not be written yet.
func NewStagingSweeper(storage SweepStorage, staging SweepStaging, safetyThreshold time.Duration) *StagingSweeper {
	return &StagingSweeper{storage: storage, staging: staging, safetyThreshold: safetyThreshold}
}

// Start sweeps every interval until ctx is done.
func (s *StagingSweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("staging sweeper started", "interval", interval, "safety_threshold", s.safetyThreshold)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats, err := s.Run(ctx)
				if err != nil {
					logger.Log.Error("staging sweep failed", "error", err)
					continue
				}
				logger.Log.Info("staging sweep completed",
					"scanned", stats.FilesScanned,
					"orphans", stats.OrphanedFiles,
					"deleted", stats.FilesDeleted,
					"duration_ms", stats.DurationMs,
					"errors", len(stats.Errors))
			case <-ctx.Done():
				logger.Log.Info("staging sweeper stopped")
				return
			}
		}
	}()
}

// Run executes one sweep.
func (s *StagingSweeper) Run(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	stats := SweepStats{RunAt: start, Errors: []string{}}

	referenced, err := s.storage.StagedPaths(ctx)
	if err != nil {
		return stats, err
	}
	keep := make(map[string]struct{}, len(referenced))
	for _, p := range referenced {
		keep[filepath.ToSlash(filepath.Clean(p))] = struct{}{}
	}

	onDisk, err := s.staging.WalkFiles()
	if err != nil {
		return stats, err
	}
	stats.FilesScanned = len(onDisk)

	for _, p := range onDisk {
		if _, ok := keep[filepath.ToSlash(filepath.Clean(p))]; ok {
			continue
		}
		modTime, err := s.staging.GetFileModTime(p)
		if err != nil {
			stats.Errors = append(stats.Errors, "stat error: "+p+": "+err.Error())
			continue
		}
		if time.Since(modTime) < s.safetyThreshold {
			continue
		}

		stats.OrphanedFiles++
		if err := s.staging.DeleteFile(p); err != nil {
			stats.Errors = append(stats.Errors, "delete error: "+p+": "+err.Error())
			continue
		}
		stats.FilesDeleted++
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	s.mu.Lock()
	s.lastStats = stats
	s.mu.Unlock()
	return stats, nil
}

func (s *StagingSweeper) LastStats() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}
