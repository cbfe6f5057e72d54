// Package janitor removes stale working files and trims report history on
// a cron schedule. The temp and output directories accumulate chart
// workspaces and generated PDFs; nothing else rotates them.
package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"
)

// Store trims persisted report history.
type Store interface {
	CleanupOldReports(limit int) error
}

// Janitor sweeps directories and report history.
type Janitor struct {
	Dirs         []string      // directories to sweep
	MaxAge       time.Duration // files older than this are removed
	Schedule     string        // cron spec, e.g. "@every 1h"
	HistoryLimit int           // report history rows to keep, 0 disables
	Store        Store
}

// Run blocks until ctx is cancelled, sweeping on the configured schedule.
func (j *Janitor) Run(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(j.Schedule, j.Sweep); err != nil {
		return fmt.Errorf("failed to schedule janitor %q: %w", j.Schedule, err)
	}
	scheduler.Start()
	log.Printf("[INFO] janitor started, schedule %q, max age %v", j.Schedule, j.MaxAge)

	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

// Sweep removes stale files from every directory concurrently, then trims
// report history.
func (j *Janitor) Sweep() {
	wg := syncs.NewSizedGroup(len(j.Dirs) + 1)
	for _, dir := range j.Dirs {
		wg.Go(func(context.Context) {
			removed, err := sweepDir(dir, j.MaxAge)
			if err != nil {
				log.Printf("[WARN] janitor sweep of %s failed: %v", dir, err)
				return
			}
			if removed > 0 {
				log.Printf("[INFO] janitor removed %d stale entries from %s", removed, dir)
			}
		})
	}
	wg.Wait()

	if j.Store != nil && j.HistoryLimit > 0 {
		if err := j.Store.CleanupOldReports(j.HistoryLimit); err != nil {
			log.Printf("[WARN] janitor failed to trim report history: %v", err)
		}
	}
}

// sweepDir removes top-level entries older than maxAge. Entire entries go,
// including per-report chart workspaces left behind by crashed jobs.
func sweepDir(dir string, maxAge time.Duration) (removed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[WARN] janitor failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
