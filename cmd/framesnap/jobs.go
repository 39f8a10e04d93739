package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/framesnap/framesnap/internal/config"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded extraction jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJobs(cmd.OutOrStdout(), ctx.config, ctx.logger, limit, status)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	cmd.Flags().StringVar(&status, "status", "", "Only show jobs with this status")
	return cmd
}

func listJobs(out io.Writer, cfg *config.Config, logger *slog.Logger, limit int, status string) error {
	if !cfg.PersistJobs {
		return errors.New("job history is disabled (persist_jobs: false)")
	}

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

	list, total := jobs.List(limit, 0, status)
	if total == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, j := range list {
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			strconv.Itoa(j.FrameCount),
			humanize.Time(j.CreatedAt),
			filepath.Base(j.SourcePath),
			j.Error,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "Status", "Frames", "Created", "Source", "Error"}, rows, 2))

	if total > len(list) {
		fmt.Fprintf(out, "showing %d of %d jobs\n", len(list), total)
	}
	return nil
}
