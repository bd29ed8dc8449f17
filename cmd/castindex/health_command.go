package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"castindex/internal/preflight"
	"castindex/internal/services"
	"castindex/internal/storage"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var until string
	var stages []string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check tools, services, and storage the pipeline needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			selected, err := selectStages(cfg, until, stages)
			if err != nil {
				return err
			}
			scoped := *cfg
			scoped.Pipeline.Stages = stageStrings(selected)

			checkCtx, cancel := context.WithTimeout(cmd.Context(), 90*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failures := 0

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range preflight.RunAll(checkCtx, &scoped) {
				kind := statusOK
				if !r.Passed {
					kind = statusError
					failures++
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(out, line)
			}
			ledgerStore, err := ctx.openLedger()
			if err != nil {
				return err
			}
			comp, err := buildComponents(checkCtx, &scoped, ledgerStore, selected, logger)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Components", statusError, services.Message(err), colorize))
				return services.Wrap(services.ErrSetup, "health", "build components", "", err)
			}
			defer comp.Close()
			if checker, ok := comp.store.(storage.Checker); ok {
				if err := checker.Check(checkCtx); err != nil {
					failures++
					fmt.Fprintln(out, renderStatusLine("Storage", statusError, err.Error(), colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Storage", statusOK, cfg.Storage.Backend, colorize))
				}
			}
			for _, exec := range comp.executors {
				health := exec.HealthCheck(checkCtx)
				kind := statusOK
				if !health.Ready {
					kind = statusError
					failures++
				}
				fmt.Fprintln(out, renderStatusLine(string(health.Stage), kind, health.Summary(), colorize))
			}

			if failures > 0 {
				return services.Wrap(services.ErrSetup, "health", "", fmt.Sprintf("%d check(s) failed", failures), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&until, "until", "", "Only check stages up to this one")
	cmd.Flags().StringSliceVar(&stages, "stages", nil, "Only check these stages (comma separated)")
	return cmd
}
