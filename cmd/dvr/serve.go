package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrcbz/dvr/internal/api"
	"github.com/vrcbz/dvr/internal/capture"
	"github.com/vrcbz/dvr/internal/pipeline"
	"github.com/vrcbz/dvr/internal/proc"
	"github.com/vrcbz/dvr/internal/registry"
	"github.com/vrcbz/dvr/internal/retention"
	"github.com/vrcbz/dvr/internal/shutdown"
	"github.com/vrcbz/dvr/internal/storage"
)

const httpShutdownTimeout = 5 * time.Second

func doServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.Capture.Dir, 0o755); err != nil {
		return fmt.Errorf("creating working directory %s: %w", cfg.Capture.Dir, err)
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// faults in the control plane cancel this context, which is
	// equivalent to receiving a termination signal
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	uploader, err := storage.New(ctx, cfg.Storage, cfg.Upload)
	if err != nil {
		return err
	}

	reg := registry.New()
	pipe := pipeline.New(cfg.Transcode, proc.Start, uploader)
	manager := capture.NewManager(context.Background(), cfg.Capture, reg, proc.Start, pipe)
	coordinator := shutdown.New(reg, cfg.Shutdown.DrainTimeout)

	server := api.New(reg, manager, func(reason string) {
		slog.Error("unrecoverable control plane fault", "reason", reason)
		cancel()
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Routes(),
	}

	var sweeper *retention.Sweeper
	if cfg.Retention.MaxAge > 0 {
		sweeper, err = retention.New(ctx, cfg.Capture.Dir, cfg.Retention.MaxAge, cfg.Retention.SweepInterval)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("control surface listening", "addr", cfg.HTTP.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	var fault error
	select {
	case <-ctx.Done():
		slog.Info("termination requested, draining")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			fault = err
			slog.Error("http server failed, draining", "error", err)
		}
	}

	// stop accepting triggers before draining captures
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	drainErr := coordinator.Drain(context.Background())

	// bound post-capture work instead of abandoning it silently
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout)
	defer waitCancel()
	if err := pipe.Wait(waitCtx); err != nil {
		slog.Warn("post-capture pipelines still running at exit, abandoning them")
	}

	if sweeper != nil {
		if err := sweeper.Shutdown(); err != nil {
			slog.Warn("stopping retention sweeper", "error", err)
		}
	}

	if drainErr != nil {
		return drainErr
	}
	if fault != nil {
		return fault
	}
	slog.Info("dvr stopped")
	return nil
}
