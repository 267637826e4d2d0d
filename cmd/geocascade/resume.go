package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/skookum/geocascade/internal/types"
)

var resumeSimulate bool

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted cascade",
	Long: `Resume a cascade from its persisted stage artifacts. Completed stages
are detected by the presence of their artifacts and skipped; work
restarts at the first stage with nothing persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if resumeSimulate {
			cfg.Simulate = true
		}

		// The run must exist; resume never creates one implicitly.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prior, err := store.LoadRun(ctx, id)
		if err != nil {
			return err
		}
		if !prior.CompletedAt.IsZero() {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s run %s already completed at %s\n", green("✓"), id, prior.CompletedAt.Format("2006-01-02 15:04:05"))
			return nil
		}

		clock := clockwork.NewRealClock()
		controller, err := buildController(clock, id)
		if err != nil {
			return err
		}

		rs, err := controller.Run(ctx, id, regionsOf(prior))
		if err != nil {
			return err
		}
		printRunSummary(rs)
		return nil
	},
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeSimulate, "simulate", false, "use the scripted analyzer instead of the interpreter service")
}

// regionsOf recovers the region set a run was started with.
func regionsOf(rs *types.RunState) []*types.Region {
	ids := make([]string, 0, len(rs.Regions))
	for id := range rs.Regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*types.Region, 0, len(ids))
	for _, id := range ids {
		region := rs.Regions[id].Region
		out = append(out, &region)
	}
	return out
}
