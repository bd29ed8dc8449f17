package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"castindex/internal/ingest"
	"castindex/internal/logging"
	"castindex/internal/schedule"
	"castindex/internal/services"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var cronExpr string
	var showNext bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			expr := strings.TrimSpace(cronExpr)
			if expr == "" {
				expr = cfg.Schedule.Cron
			}
			if expr == "" {
				return services.Wrap(services.ErrConfiguration, "schedule", "", "schedule.cron is empty", nil)
			}
			if err := schedule.Validate(expr); err != nil {
				return err
			}
			scheduler, err := schedule.New(cfg.Schedule.Timezone, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showNext {
				next, err := scheduler.NextAfter(expr, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Next run: %s (%s)\n", next.Format(time.RFC1123), humanize.Time(next))
				return nil
			}

			withIngest := cfg.Schedule.Ingest
			job := func(jobCtx context.Context) error {
				if withIngest {
					result, err := ctx.runIngest(jobCtx, ingest.Options{
						Mode:   ingest.ModeLatest,
						Latest: cfg.Feed.Latest,
					})
					if err != nil {
						return err
					}
					logger.Info("scheduled ingest finished",
						logging.Int("added", result.Added),
						logging.Int("downloaded", result.Downloaded),
					)
				}
				_, err := ctx.runPipeline(jobCtx, runOptions{})
				return err
			}
			if err := scheduler.Add("pipeline", expr, job); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(out, "Scheduler running (%s, %s); press Ctrl+C to stop\n", expr, cfg.Schedule.Timezone)
			if err := scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression overriding schedule.cron")
	cmd.Flags().BoolVar(&showNext, "next", false, "Print the next activation and exit")
	return cmd
}
