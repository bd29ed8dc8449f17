package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"castindex/internal/aggregate"
	"castindex/internal/runlock"
)

func newAggregateCommand(ctx *commandContext) *cobra.Command {
	var yamlPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild the tag index from existing annotations",
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

			items, err := ctx.openItems()
			if err != nil {
				return err
			}
			if err := items.RequireItems(); err != nil {
				return err
			}
			aggCfg := cfg.Aggregate
			if yamlPath != "" {
				aggCfg.YAMLPath = yamlPath
			}
			index, err := aggregate.Generate(aggCfg, newCache(cfg, nil), items.Items(), time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, index)
			}
			printIndex(cmd, index, aggCfg.IndexPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&yamlPath, "yaml", "", "Also write the index as YAML to this path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the index as JSON")
	return cmd
}

func printIndex(cmd *cobra.Command, index aggregate.Index, path string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Index written to %s\n", path)
	fmt.Fprintf(out, "Items analyzed: %d, skipped: %d\n", index.ItemsAnalyzed, len(index.Skipped))
	sections := []struct {
		title  string
		counts []aggregate.Count
	}{
		{"Technology", index.RankedTechTags},
		{"Business", index.RankedBusinessTags},
		{"Topics", index.RankedTopics},
	}
	for _, section := range sections {
		if len(section.counts) == 0 {
			continue
		}
		rows := make([][]string, 0, len(section.counts))
		for i, c := range section.counts {
			rows = append(rows, []string{strconv.Itoa(i + 1), c.Tag, strconv.Itoa(c.Count)})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, section.title)
		fmt.Fprintln(out, renderTable([]string{"#", "Tag", "Items"}, rows, []columnAlignment{alignRight, alignLeft, alignRight}))
	}
}
