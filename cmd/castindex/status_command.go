package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"castindex/internal/ledger"
	"castindex/internal/stage"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show item counts, per-stage progress, and the latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			items, err := ctx.openItems()
			if err != nil {
				return err
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			latest, err := store.LatestRun(cmd.Context())
			if err != nil {
				return err
			}
			cache := newCache(cfg, nil)

			if asJSON {
				return writeJSON(cmd, struct {
					Items       int                   `json:"items"`
					Transcripts int                   `json:"transcripts"`
					Annotations int                   `json:"annotations"`
					Stages      []ledger.StageSummary `json:"stages"`
					LatestRun   *ledger.Run           `json:"latest_run,omitempty"`
				}{items.Len(), cache.Count(stage.Transcribe), cache.Count(stage.Annotate), summary, latest})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Items", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Item store", statusInfo, fmt.Sprintf("%d items (%s)", items.Len(), items.Path()), colorize))
			fmt.Fprintln(out, renderStatusLine("Transcripts", statusInfo, strconv.Itoa(cache.Count(stage.Transcribe)), colorize))
			fmt.Fprintln(out, renderStatusLine("Annotations", statusInfo, strconv.Itoa(cache.Count(stage.Annotate)), colorize))

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(out, line)
			}
			rows := make([][]string, 0, len(summary))
			for _, s := range summary {
				rows = append(rows, []string{
					string(s.Stage),
					strconv.Itoa(s.Done),
					strconv.Itoa(s.Pending),
					strconv.Itoa(s.Running),
					strconv.Itoa(s.Failed),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Done", "Pending", "Running", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
			))

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Latest run", colorize) {
				fmt.Fprintln(out, line)
			}
			if latest == nil {
				fmt.Fprintln(out, renderStatusLine("Run", statusInfo, "none yet", colorize))
				return nil
			}
			fmt.Fprintln(out, renderStatusLine("Run", runStatusKind(latest.Status), fmt.Sprintf("%s (%s)", latest.ID, latest.Status), colorize))
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, humanize.Time(latest.StartedAt), colorize))
			if latest.FinishedAt != nil {
				fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, latest.FinishedAt.Sub(latest.StartedAt).Round(time.Second).String(), colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Outcome", statusInfo,
				fmt.Sprintf("%d completed, %d partial, %d failed of %d", latest.Completed, latest.Partial, latest.Failed, latest.Items), colorize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func runStatusKind(status string) statusKind {
	switch status {
	case ledger.RunFinished:
		return statusOK
	case ledger.RunAborted:
		return statusWarn
	default:
		return statusInfo
	}
}
