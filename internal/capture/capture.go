package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vrcbz/dvr/internal/config"
	"github.com/vrcbz/dvr/internal/log"
	"github.com/vrcbz/dvr/internal/metrics"
	"github.com/vrcbz/dvr/internal/proc"
	"github.com/vrcbz/dvr/internal/registry"
)

// Pipeline consumes a successfully captured file. Run must not block:
// post-processing happens in the background, detached from the capture
// stage.
type Pipeline interface {
	Run(ctx context.Context, sess *registry.Session, capturePath string)
}

type Manager struct {
	cfg   config.Capture
	reg   *registry.Registry
	spawn proc.Spawner
	pipe  Pipeline

	// base context for watcher goroutines; capture outlives the HTTP
	// request that triggered it.
	ctx context.Context
}

func NewManager(ctx context.Context, cfg config.Capture, reg *registry.Registry, spawn proc.Spawner, pipe Pipeline) *Manager {
	return &Manager{
		cfg:   cfg,
		reg:   reg,
		spawn: spawn,
		pipe:  pipe,
		ctx:   ctx,
	}
}

// Start admits a new session for user and spawns its capture process.
// It returns as soon as the process is running, not when capture ends.
// Errors: registry.ErrDuplicateSession, or the spawn error with the
// registry already cleaned up.
func (m *Manager) Start(ctx context.Context, user string) (registry.Snapshot, error) {
	sess := registry.NewSession(user, time.Now().UTC())
	if err := m.reg.Insert(sess); err != nil {
		return registry.Snapshot{}, err
	}

	sctx := log.ContextAttrs(m.ctx,
		slog.String("user", user),
		slog.String("session_id", sess.ID),
	)

	outPath := filepath.Join(m.cfg.Dir, sess.Filename)
	handle, err := m.spawn(sctx, m.command(user, outPath))
	if err != nil {
		m.reg.Remove(user)
		return registry.Snapshot{}, fmt.Errorf("starting capture process: %w", err)
	}
	sess.SetHandle(handle)

	slog.InfoContext(sctx, "capture started",
		"filename", sess.Filename, "pid", handle.PID())
	go m.watch(sctx, sess, outPath)

	return sess.Snapshot(), nil
}

// command builds the stream-copy invocation: bounded read timeout,
// automatic reconnect with bounded delay, no re-encode.
func (m *Manager) command(user, outPath string) proc.Command {
	source := fmt.Sprintf("https://%s/live/%s.live.ts", m.cfg.CDNHost, user)
	return proc.Command{
		Path: m.cfg.Binary,
		Args: []string{
			"-hide_banner",
			"-loglevel", "warning",
			"-rw_timeout", strconv.FormatInt(m.cfg.StallTimeout.Microseconds(), 10),
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", strconv.Itoa(int(m.cfg.ReconnectDelayMax / time.Second)),
			"-i", source,
			"-c", "copy",
			outPath,
		},
	}
}

func (m *Manager) watch(ctx context.Context, sess *registry.Session, outPath string) {
	st := <-sess.Handle().Done()

	// the session stops being active the instant the process exits,
	// success or failure; a new trigger for this user is admissible
	// from here on.
	m.reg.Remove(sess.User)

	if st.Code == 0 && nonEmptyFile(outPath) {
		slog.InfoContext(ctx, "capture finished", "filename", sess.Filename)
		metrics.CapturesTotal.WithLabelValues(metrics.ResultOK).Inc()
		m.pipe.Run(ctx, sess, outPath)
		return
	}

	sess.SetState(registry.CaptureFailed)
	metrics.CapturesTotal.WithLabelValues(metrics.ResultFailed).Inc()
	slog.ErrorContext(ctx, "capture failed",
		"filename", sess.Filename,
		"exit_code", st.Code,
		"error", st.Err,
	)
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
