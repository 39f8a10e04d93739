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

	"github.com/framesnap/framesnap/internal/api"
	"github.com/framesnap/framesnap/internal/config"
	"github.com/framesnap/framesnap/internal/decoder"
	"github.com/framesnap/framesnap/internal/extract"
	"github.com/framesnap/framesnap/internal/logging"
	"github.com/framesnap/framesnap/internal/mirror"
	"github.com/framesnap/framesnap/internal/progress"
	"github.com/framesnap/framesnap/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, ctx.config, ctx.logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	jobs, closeJobs, err := openJobStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeJobs()

	media, err := storage.NewStore(cfg.UploadDir(), cfg.FrameDir())
	if err != nil {
		return err
	}

	pub, err := mirror.New(ctx, cfg.Mirror)
	if err != nil {
		return fmt.Errorf("configure mirror: %w", err)
	}
	if pub != nil {
		defer pub.Close()
		logger.Info("mirroring frames", "backend", cfg.Mirror.Backend, "bucket", cfg.Mirror.Bucket)
	}

	// Jobs outlive the request that started them and are stopped explicitly
	// during shutdown.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	ps := progress.NewStore()
	runner := extract.NewRunner(runCtx,
		&decoder.FFmpeg{Path: cfg.FFmpegPath, Quality: cfg.FrameQuality},
		media, ps, jobs,
		extract.Options{Mirror: pub, MirrorPrefix: cfg.Mirror.Prefix, Logger: logger},
	)

	router := api.NewRouter(cfg, api.Deps{
		Runner:   runner,
		Media:    media,
		Progress: ps,
		Jobs:     jobs,
		Logger:   logger,
	})

	// No read or write deadline: uploads and archive downloads can be large.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr(), "data_dir", cfg.DataDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", logging.Err(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("extraction did not stop in time", logging.Err(err))
	}

	logger.Info("server stopped")
	return nil
}
