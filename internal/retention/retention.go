// Package retention sweeps aged local artifacts out of the working
// directory. Failure paths deliberately keep their files; the sweeper
// turns that into a bounded policy instead of unbounded accumulation.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
)

type Sweeper struct {
	scheduler gocron.Scheduler
}

// New schedules a sweep of dir every interval, removing capture and
// transcode artifacts older than maxAge. Files of in-progress sessions
// are safe: a running capture keeps its file's mtime fresh.
func New(ctx context.Context, dir string, maxAge, interval time.Duration) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			Sweep(ctx, dir, maxAge)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling retention sweep: %w", err)
	}

	return &Sweeper{scheduler: scheduler}, nil
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

func (s *Sweeper) Shutdown() error {
	return s.scheduler.Shutdown()
}

// Sweep removes .ts and .ogg files in dir whose modification time is
// older than maxAge.
func Sweep(ctx context.Context, dir string, maxAge time.Duration) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.ErrorContext(ctx, "retention sweep: reading dir", "dir", dir, "error", err)
		return
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".ts", ".ogg":
		default:
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.WarnContext(ctx, "retention sweep: removing", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.InfoContext(ctx, "retention sweep removed aged artifacts", "count", removed)
	}
}
