package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skookum/geocascade/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run progress per region and stage",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		id := ""
		if len(args) == 1 {
			id = args[0]
		} else {
			runs, err := store.ListRuns(ctx)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			id = runs[0]
		}

		rs, err := store.LoadRun(ctx, id)
		if err != nil {
			return err
		}
		printStatus(rs)
		return nil
	},
}

func printStatus(rs *types.RunState) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Run %s ===", rs.RunID)))
	fmt.Printf("Started:   %s\n", rs.StartedAt.Format("2006-01-02 15:04:05"))
	if rs.CompletedAt.IsZero() {
		fmt.Printf("Completed: %s\n", gray("in progress"))
	} else {
		fmt.Printf("Completed: %s\n", rs.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	for _, id := range sortedRegionIDs(rs) {
		state := rs.Regions[id]
		fmt.Printf("%s (%s)\n", id, state.Region.Name)
		for _, stage := range types.StageOrder {
			if state.StageDone(stage) {
				fmt.Printf("  %s %s\n", green("●"), stage)
			} else {
				fmt.Printf("  %s %s\n", gray("○"), stage)
			}
		}
		surviving := 0
		for _, d := range state.Discoveries {
			if !d.Merged() {
				surviving++
			}
		}
		fmt.Printf("  discoveries: %d surviving of %d\n\n", surviving, len(state.Discoveries))
	}

	fmt.Printf("Sources: %d   Exchanges: %d   Warnings: %d   Leverage passes: %d\n",
		len(rs.Sources), len(rs.Prompts), len(rs.Warnings), rs.LeveragePasses)
}

func sortedRegionIDs(rs *types.RunState) []string {
	ids := make([]string, 0, len(rs.Regions))
	for id := range rs.Regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
