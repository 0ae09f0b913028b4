// Package pipeline drives the post-capture stages of a session:
// transcode, then durable upload. Stages are strictly sequential within
// one session and fully independent across sessions.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vrcbz/dvr/internal/config"
	"github.com/vrcbz/dvr/internal/metrics"
	"github.com/vrcbz/dvr/internal/proc"
	"github.com/vrcbz/dvr/internal/registry"
)

// Uploader moves one finished artifact to durable storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

type Pipeline struct {
	cfg      config.Transcode
	spawn    proc.Spawner
	uploader Uploader

	wg sync.WaitGroup
}

func New(cfg config.Transcode, spawn proc.Spawner, uploader Uploader) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		spawn:    spawn,
		uploader: uploader,
	}
}

// Run starts the session's post-capture processing and returns
// immediately. The session is exclusively owned by the pipeline from
// here until its terminal state.
func (p *Pipeline) Run(ctx context.Context, sess *registry.Session, capturePath string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.process(ctx, sess, capturePath)
	}()
}

// Wait blocks until every in-flight pipeline run has reached a terminal
// state, or ctx expires. Shutdown uses it to bound post-capture work
// instead of silently abandoning it.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) process(ctx context.Context, sess *registry.Session, capturePath string) {
	audioPath, err := p.transcode(ctx, sess, capturePath)
	if err != nil {
		// raw capture is kept; a failed capture is expensive to lose
		sess.SetState(registry.TranscodeFailed)
		metrics.TranscodesTotal.WithLabelValues(metrics.ResultFailed).Inc()
		slog.ErrorContext(ctx, "transcode failed", "input", capturePath, "error", err)
		return
	}
	metrics.TranscodesTotal.WithLabelValues(metrics.ResultOK).Inc()
	slog.InfoContext(ctx, "transcode finished", "output", audioPath)

	sess.SetState(registry.Uploading)
	size, err := p.upload(ctx, audioPath)
	if err != nil {
		// transcoded artifact is kept so the recording is not lost
		sess.SetState(registry.UploadFailed)
		metrics.UploadsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		slog.ErrorContext(ctx, "upload failed, artifact retained", "path", audioPath, "error", err)
		return
	}
	metrics.UploadsTotal.WithLabelValues(metrics.ResultOK).Inc()
	metrics.UploadedBytes.Add(float64(size))
	slog.InfoContext(ctx, "upload finished", "key", filepath.Base(audioPath), "bytes", size)

	sess.SetState(registry.Done)

	// cleanup only on full success, and its failure never demotes the
	// reported outcome
	for _, path := range []string{capturePath, audioPath} {
		if err := os.Remove(path); err != nil {
			slog.WarnContext(ctx, "removing local artifact", "path", path, "error", err)
		}
	}
}

// transcode demuxes video and encodes audio at a fixed bitrate into a
// sibling file with the audio container extension.
func (p *Pipeline) transcode(ctx context.Context, sess *registry.Session, capturePath string) (string, error) {
	sess.SetState(registry.Transcoding)
	audioPath := strings.TrimSuffix(capturePath, filepath.Ext(capturePath)) + ".ogg"

	handle, err := p.spawn(ctx, proc.Command{
		Path: p.cfg.Binary,
		Args: []string{
			"-hide_banner",
			"-loglevel", "warning",
			"-i", capturePath,
			"-vn",
			"-c:a", p.cfg.Codec,
			"-b:a", p.cfg.Bitrate,
			"-vbr", "on",
			audioPath,
		},
	})
	if err != nil {
		return "", err
	}

	st := <-handle.Done()
	if st.Code != 0 {
		if st.Err != nil {
			return "", st.Err
		}
		return "", &ExitError{Code: st.Code}
	}
	return audioPath, nil
}

func (p *Pipeline) upload(ctx context.Context, audioPath string) (int64, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	// object key is the artifact's base filename; the listing page
	// parses user and timestamp back out of it
	if err := p.uploader.Upload(ctx, filepath.Base(audioPath), f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ExitError reports a transcoder that ran but exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "transcoder exited with code " + strconv.Itoa(e.Code)
}
