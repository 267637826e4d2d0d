package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/skookum/geocascade/internal/analyzer"
	"github.com/skookum/geocascade/internal/cascade"
	"github.com/skookum/geocascade/internal/config"
	"github.com/skookum/geocascade/internal/imagery"
	"github.com/skookum/geocascade/internal/interpreter"
	"github.com/skookum/geocascade/internal/leverage"
	"github.com/skookum/geocascade/internal/observability"
	"github.com/skookum/geocascade/internal/types"
)

var (
	runSimulate bool
	runRegions  []string
	runID       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new discovery cascade",
	Long: `Run the cascade over the selected regions. Progress is checkpointed
after every stage; interrupt with Ctrl-C and pick up later with
'geocascade resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runSimulate {
			cfg.Simulate = true
		}
		if len(runRegions) > 0 {
			cfg.ActiveRegions = runRegions
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		clock := clockwork.NewRealClock()
		id := runID
		if id == "" {
			id = cascade.RunID(clock)
		}

		controller, err := buildController(clock, id)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		regions := cfg.SelectedRegions()
		printRunHeader(id, regions)

		rs, err := controller.Run(ctx, id, regions)
		if err != nil {
			return err
		}
		printRunSummary(rs)
		if ctx.Err() != nil {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s interrupted; resume with: geocascade resume %s\n", yellow("!"), id)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "use the scripted analyzer instead of the interpreter service")
	runCmd.Flags().StringSliceVar(&runRegions, "regions", nil, "region ids to cascade (default: the high-priority catalog)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "explicit run identifier (default: derived from the clock)")
}

// buildController assembles the cascade from configuration. In
// simulate mode no external service is contacted.
func buildController(clock clockwork.Clock, id string) (*cascade.Controller, error) {
	providers := []imagery.Provider{
		imagery.NewSimulatedOptical(),
		imagery.NewSimulatedRadar(),
	}
	if cfg.Imagery.UseBasemap {
		providers = append(providers, imagery.NewSimulatedBasemap())
	}

	metrics := observability.NewMetrics()

	var an analyzer.Analyzer
	var lever *leverage.Engine
	if cfg.Simulate {
		an = analyzer.NewSimulatedAnalyzer()
		lever = leverage.NewEngine(nil, nil, logger)
	} else {
		client, err := newInterpreterClient(cfg, metrics, clock)
		if err != nil {
			return nil, err
		}
		recorder := store.Recorder(id)
		an = analyzer.NewInterpreterAnalyzer(client, recorder, logger)
		lever = leverage.NewEngine(client, recorder, logger)
	}

	return cascade.New(cfg, store, providers, an, lever, metrics, clock, logger)
}

func newInterpreterClient(cfg *config.Config, metrics *observability.Metrics, clock clockwork.Clock) (*interpreter.Client, error) {
	icfg := interpreter.DefaultConfig()
	if cfg.Interpreter.Model != "" {
		icfg.Model = cfg.Interpreter.Model
	}
	if cfg.Interpreter.MaxRetries > 0 {
		icfg.MaxRetries = cfg.Interpreter.MaxRetries
	}
	if cfg.Interpreter.CallsPerMinute > 0 {
		icfg.CallsPerMinute = cfg.Interpreter.CallsPerMinute
	}
	if cfg.Interpreter.MaxConcurrentCalls > 0 {
		icfg.MaxConcurrentCalls = cfg.Interpreter.MaxConcurrentCalls
	}
	if timeout, err := cfg.Interpreter.TimeoutDuration(); err == nil {
		icfg.Timeout = timeout
	}
	return interpreter.NewClient(icfg, metrics, clock, logger)
}

func printRunHeader(id string, regions []*types.Region) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== Discovery Cascade ==="))
	fmt.Printf("Run:     %s\n", id)
	fmt.Printf("Regions: %d\n", len(regions))
	for _, r := range regions {
		fmt.Printf("  - %s (%s)\n", r.ID, r.Name)
	}
	fmt.Println()
}

func printRunSummary(rs *types.RunState) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	survivors := rs.SurvivingDiscoveries()
	fmt.Printf("\n%s\n", green("Cascade complete"))
	fmt.Printf("  Discoveries: %d surviving (%d total)\n", len(survivors), len(rs.AllDiscoveries()))
	fmt.Printf("  Sources:     %d\n", len(rs.Sources))
	fmt.Printf("  Exchanges:   %d\n", len(rs.Prompts))
	if len(rs.Warnings) > 0 {
		fmt.Printf("  %s\n", yellow(fmt.Sprintf("Warnings:    %d", len(rs.Warnings))))
	}
}
