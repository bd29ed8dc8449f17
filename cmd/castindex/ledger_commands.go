package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"castindex/internal/fileutil"
	"castindex/internal/ledger"
	"castindex/internal/runlock"
	"castindex/internal/stage"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair the progress ledger",
	}

	ledgerCmd.AddCommand(newLedgerShowCommand(ctx))
	ledgerCmd.AddCommand(newLedgerEventsCommand(ctx))
	ledgerCmd.AddCommand(newLedgerResetCommand(ctx))
	ledgerCmd.AddCommand(newLedgerRetryCommand(ctx))
	ledgerCmd.AddCommand(newLedgerExportCommand(ctx))
	ledgerCmd.AddCommand(newLedgerImportCommand(ctx))

	return ledgerCmd
}

func parseStageFlag(value string) (stage.Name, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", nil
	}
	return stage.Parse(value)
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	var itemID, stageFlag, statusFlag string
	var limit uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List stage records",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseStageFlag(stageFlag)
			if err != nil {
				return err
			}
			status := ledger.Status(strings.ToLower(strings.TrimSpace(statusFlag)))
			if status != "" && !knownStatus(status) {
				return fmt.Errorf("unknown status %q", statusFlag)
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			records, err := store.Records(cmd.Context(), ledger.Filter{ItemID: strings.TrimSpace(itemID), Stage: name, Status: status, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No ledger records")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				detail := rec.Artifact
				if rec.Status == ledger.StatusFailed {
					detail = fmt.Sprintf("%s: %s", rec.ErrorKind, rec.ErrorMessage)
				} else if rec.JobHandle != "" {
					detail = "job " + rec.JobHandle
				}
				rows = append(rows, []string{
					rec.ItemID,
					string(rec.Stage),
					string(rec.Status),
					strconv.Itoa(rec.Attempts),
					humanize.Time(rec.UpdatedAt),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Item", "Stage", "Status", "Attempts", "Updated", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Only records for this item id")
	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only records for this stage")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Only records with this status (pending, running, done, failed)")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "Maximum records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func knownStatus(status ledger.Status) bool {
	for _, s := range ledger.Statuses() {
		if s == status {
			return true
		}
	}
	return false
}

func newLedgerEventsCommand(ctx *commandContext) *cobra.Command {
	var itemID, runID string
	var limit uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the stage event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			events, err := store.Events(cmd.Context(), ledger.EventFilter{ItemID: strings.TrimSpace(itemID), RunID: strings.TrimSpace(runID), Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, events)
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No events")
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				detail := e.Detail
				if e.ErrorKind != "" {
					detail = e.ErrorKind + ": " + detail
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.ItemID,
					string(e.Stage),
					e.Event,
					detail,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Time", "Item", "Stage", "Event", "Detail"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Only events for this item id")
	cmd.Flags().StringVar(&runID, "run", "", "Only events for this run id")
	cmd.Flags().Uint64Var(&limit, "limit", 50, "Maximum events to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}

func newLedgerResetCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "reset <item-id>",
		Short: "Forget ledger progress for an item so its stages run again",
		Long: `Reset deletes the item's stage records. Existing artifacts still satisfy
their stage on the next run; delete the artifact as well to force a stage to
produce it again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseStageFlag(stageFlag)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := runlock.Acquire(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			removed, err := store.Reset(cmd.Context(), strings.TrimSpace(args[0]), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d record(s) for %s\n", removed, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Reset only this stage")
	return cmd
}

func newLedgerRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id]",
		Short: "Move failed records back to pending",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := runlock.Acquire(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			var itemID string
			if len(args) == 1 {
				itemID = strings.TrimSpace(args[0])
			}
			moved, err := store.Retry(cmd.Context(), itemID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed record(s)\n", moved)
			return nil
		},
	}
}

func newLedgerExportCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			snapshot, err := store.Export(cmd.Context())
			if err != nil {
				return err
			}
			if strings.TrimSpace(outPath) == "" {
				return writeJSON(cmd, snapshot)
			}
			data, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return fmt.Errorf("encode snapshot: %w", err)
			}
			if err := fileutil.WriteFileAtomic(outPath, append(data, '\n'), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) and %d event(s) to %s\n", len(snapshot.Records), len(snapshot.Events), outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Destination file (default stdout)")
	return cmd
}

func newLedgerImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the ledger with a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snapshot ledger.Snapshot
			if err := json.Unmarshal(data, &snapshot); err != nil {
				return fmt.Errorf("parse snapshot: %w", err)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := runlock.Acquire(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			if err := store.Import(cmd.Context(), snapshot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s) and %d event(s)\n", len(snapshot.Records), len(snapshot.Events))
			return nil
		},
	}
}
