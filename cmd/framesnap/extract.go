package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/framesnap/framesnap/internal/config"
	"github.com/framesnap/framesnap/internal/decoder"
	"github.com/framesnap/framesnap/internal/extract"
	"github.com/framesnap/framesnap/internal/job"
	"github.com/framesnap/framesnap/internal/mirror"
	"github.com/framesnap/framesnap/internal/progress"
	"github.com/framesnap/framesnap/internal/storage"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <video>",
		Short: "Extract the frames of a video in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := ctx.config
			opener := &decoder.FFmpeg{Path: cfg.FFmpegPath, Quality: cfg.FrameQuality}
			return runExtract(sigCtx, cmd.OutOrStdout(), cfg, ctx.logger, opener, args[0])
		},
	}
}

// runExtract decodes the video at path into the frame directory, exactly as
// an upload would, and prints the resulting frames.
func runExtract(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, opener decoder.Opener, path string) error {
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
	}

	ps := progress.NewStore()
	runner := extract.NewRunner(ctx, opener, media, ps, jobs,
		extract.Options{Mirror: pub, MirrorPrefix: cfg.Mirror.Prefix, Logger: logger})

	j := job.New(path)
	if err := jobs.Add(j); err != nil {
		return fmt.Errorf("register job: %w", err)
	}

	start := time.Now()
	runErr := runner.Run(ctx, j)

	if rows := frameRows(media, ps.Snapshot().Frames); len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"#", "Frame", "Size"}, rows, 0, 2))
	}
	fmt.Fprintf(out, "%s: %d frames in %s (job %s)\n", j.Status, j.FrameCount, time.Since(start).Round(time.Millisecond), j.ID)

	return runErr
}

func frameRows(media *storage.Store, refs []string) [][]string {
	rows := make([][]string, 0, len(refs))
	for i, ref := range refs {
		size := "?"
		if p, err := media.Resolve(ref); err == nil {
			if info, err := os.Stat(p); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
		}
		rows = append(rows, []string{strconv.Itoa(i), filepath.Base(ref), size})
	}
	return rows
}
