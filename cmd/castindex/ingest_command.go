package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"castindex/internal/config"
	"castindex/internal/feed"
	"castindex/internal/ingest"
	"castindex/internal/notifications"
	"castindex/internal/runlock"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var latest int
	var batch bool
	var start int
	var size int
	var noDownload bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the feed, download episodes, and update the item store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := ingestOptions(cfg, cmd, latest, batch, start, size, noDownload)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result, err := ctx.runIngest(runCtx, opts)
			if err != nil {
				return err
			}
			printIngestResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().IntVar(&latest, "latest", 0, "Ingest the newest N episodes (default from feed.latest)")
	cmd.Flags().BoolVar(&batch, "batch", false, "Page through older episodes instead of the newest")
	cmd.Flags().IntVar(&start, "start", 0, "Feed position the batch starts at (default from feed.batch_start)")
	cmd.Flags().IntVar(&size, "size", 0, "Number of episodes in the batch (default from feed.batch_size)")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Record metadata without downloading audio")
	return cmd
}

func ingestOptions(cfg *config.Config, cmd *cobra.Command, latest int, batch bool, start, size int, noDownload bool) ingest.Options {
	opts := ingest.Options{
		Mode:         ingest.ModeLatest,
		Latest:       cfg.Feed.Latest,
		Start:        cfg.Feed.BatchStart,
		Size:         cfg.Feed.BatchSize,
		SkipDownload: noDownload,
	}
	if cmd.Flags().Changed("latest") {
		opts.Latest = latest
	}
	if batch {
		opts.Mode = ingest.ModeBatch
	}
	if cmd.Flags().Changed("start") {
		opts.Start = start
	}
	if cmd.Flags().Changed("size") {
		opts.Size = size
	}
	return opts
}

// runIngest holds the run lock for the duration of the ingest.
func (c *commandContext) runIngest(runCtx context.Context, opts ingest.Options) (ingest.Result, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return ingest.Result{}, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return ingest.Result{}, err
	}
	lock, err := runlock.Acquire(cfg.LockPath())
	if err != nil {
		return ingest.Result{}, err
	}
	defer lock.Release()

	items, err := c.openItems()
	if err != nil {
		return ingest.Result{}, err
	}
	svc := ingest.New(cfg, feed.NewClient(cfg.Feed), items, notifications.NewService(cfg), logger)
	return svc.Run(runCtx, opts)
}

func printIngestResult(cmd *cobra.Command, result ingest.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Feed episodes: %d (selected %d)\n", result.Found, result.Selected)
	fmt.Fprintf(out, "Items added: %d, updated: %d\n", result.Added, result.Updated)
	fmt.Fprintf(out, "Downloaded: %d (%s), already present: %d\n", result.Downloaded, humanize.Bytes(uint64(result.Bytes)), result.Existing)
	if len(result.Failures) == 0 {
		return
	}
	fmt.Fprintf(out, "Download failures: %d\n", len(result.Failures))
	rows := make([][]string, 0, len(result.Failures))
	for _, failure := range result.Failures {
		rows = append(rows, []string{failure.ItemID, failure.Err.Error()})
	}
	fmt.Fprintln(out, renderTable([]string{"Item", "Error"}, rows, nil))
}
