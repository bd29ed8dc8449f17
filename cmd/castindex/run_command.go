package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"castindex/internal/pipeline"
	"castindex/internal/preflight"
	"castindex/internal/runlock"
	"castindex/internal/services"
	"castindex/internal/stage"
)

type runOptions struct {
	until         string
	stages        []string
	skipPreflight bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every item through the pipeline and rebuild the index",
		Long: `Run drives each item through convert, upload, transcribe and annotate.
Stages whose artifact already exists are skipped, so an interrupted run picks
up where it stopped. Per-item failures are recorded in the ledger and do not
change the exit status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			summary, err := ctx.runPipeline(runCtx, opts)
			if summary.RunID != "" {
				if asJSON {
					if jsonErr := writeJSON(cmd, summaryJSON(summary)); jsonErr != nil {
						return jsonErr
					}
				} else {
					printRunSummary(cmd, summary)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.until, "until", "", "Stop after this stage (convert, upload, transcribe, annotate)")
	cmd.Flags().StringSliceVar(&opts.stages, "stages", nil, "Run only these stages (comma separated)")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Do not check tools and services before running")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	return cmd
}

func (c *commandContext) runPipeline(runCtx context.Context, opts runOptions) (pipeline.Summary, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return pipeline.Summary{}, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return pipeline.Summary{}, err
	}
	stages, err := selectStages(cfg, opts.until, opts.stages)
	if err != nil {
		return pipeline.Summary{}, services.Wrap(services.ErrConfiguration, "run", "stages", "", err)
	}
	if err := cfg.ValidateBackends(); err != nil && containsStage(stages, stage.Transcribe) {
		return pipeline.Summary{}, services.Wrap(services.ErrConfiguration, "run", "backends", "", err)
	}

	lock, err := runlock.Acquire(cfg.LockPath())
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer lock.Release()

	if !opts.skipPreflight {
		scoped := *cfg
		scoped.Pipeline.Stages = stageStrings(stages)
		if failed := preflight.Failed(preflight.RunAll(runCtx, &scoped)); len(failed) > 0 {
			parts := make([]string, 0, len(failed))
			for _, r := range failed {
				parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
			}
			return pipeline.Summary{}, services.Wrap(services.ErrSetup, "run", "preflight", strings.Join(parts, "; "), nil)
		}
	}

	items, err := c.openItems()
	if err != nil {
		return pipeline.Summary{}, err
	}
	ledgerStore, err := c.openLedger()
	if err != nil {
		return pipeline.Summary{}, err
	}
	comp, err := buildComponents(runCtx, cfg, ledgerStore, stages, logger)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer comp.Close()

	return newOrchestrator(cfg, items, ledgerStore, comp, stages, logger).Run(runCtx)
}

func containsStage(stages []stage.Name, name stage.Name) bool {
	for _, s := range stages {
		if s == name {
			return true
		}
	}
	return false
}

func stageStrings(stages []stage.Name) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, string(s))
	}
	return out
}

type runSummaryJSON struct {
	RunID       string   `json:"run_id"`
	Items       int      `json:"items"`
	Completed   int      `json:"completed"`
	Partial     int      `json:"partial"`
	Failed      int      `json:"failed"`
	Requeued    int      `json:"requeued"`
	Transcripts int      `json:"transcripts"`
	Annotations int      `json:"annotations"`
	Analyzed    int      `json:"items_analyzed"`
	TopTech     []string `json:"top_tech"`
	IndexPath   string   `json:"index_path,omitempty"`
	Seconds     float64  `json:"duration_seconds"`
	Interrupted bool     `json:"interrupted"`
	Failures    []string `json:"failures,omitempty"`
}

func summaryJSON(s pipeline.Summary) runSummaryJSON {
	out := runSummaryJSON{
		RunID:       s.RunID,
		Items:       s.Items,
		Completed:   s.Completed,
		Partial:     s.Partial,
		Failed:      s.Failed,
		Requeued:    s.Requeued,
		Transcripts: s.Transcripts,
		Annotations: s.Annotations,
		Analyzed:    s.Analyzed,
		TopTech:     s.TopTech,
		IndexPath:   s.IndexPath,
		Seconds:     s.Duration.Seconds(),
		Interrupted: s.Interrupted,
	}
	for _, r := range s.Results {
		if r.Cause != nil {
			out.Failures = append(out.Failures, fmt.Sprintf("%s/%s: %s", r.ItemID, r.FailedStage, services.Message(r.Cause)))
		}
	}
	return out
}

func printRunSummary(cmd *cobra.Command, s pipeline.Summary) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Run "+s.RunID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Items", statusInfo, fmt.Sprintf("%d (requeued %d)", s.Items, s.Requeued), colorize))
	fmt.Fprintln(out, renderStatusLine("Completed", statusOK, fmt.Sprintf("%d", s.Completed), colorize))
	if s.Partial > 0 {
		fmt.Fprintln(out, renderStatusLine("Partial", statusWarn, fmt.Sprintf("%d", s.Partial), colorize))
	}
	if s.Failed > 0 {
		fmt.Fprintln(out, renderStatusLine("Failed", statusError, fmt.Sprintf("%d", s.Failed), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Transcripts", statusInfo, fmt.Sprintf("%d", s.Transcripts), colorize))
	fmt.Fprintln(out, renderStatusLine("Annotations", statusInfo, fmt.Sprintf("%d", s.Annotations), colorize))
	if s.IndexPath != "" {
		fmt.Fprintln(out, renderStatusLine("Index", statusOK, fmt.Sprintf("%s (%d analyzed)", s.IndexPath, s.Analyzed), colorize))
	}
	if len(s.TopTech) > 0 {
		fmt.Fprintln(out, renderStatusLine("Top tech", statusInfo, strings.Join(s.TopTech, ", "), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, s.Duration.Round(time.Second).String(), colorize))
	if s.Interrupted {
		fmt.Fprintln(out, renderStatusLine("Interrupted", statusWarn, "rerun to resume", colorize))
	}

	var rows [][]string
	for _, r := range s.Results {
		if r.Cause == nil {
			continue
		}
		rows = append(rows, []string{r.ItemID, string(r.FailedStage), services.Kind(r.Cause), services.Message(r.Cause)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Item", "Stage", "Kind", "Error"}, rows, nil))
	}
}
