package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/skookum/geocascade/internal/compliance"
	"github.com/skookum/geocascade/internal/types"
)

var validateReplay bool

var validateCmd = &cobra.Command{
	Use:   "validate <run-id>",
	Short: "Check a run against the submission rules",
	Long: `Validate a run: evidence-source diversity, the confirmed-discovery
minimum, dataset attribution, the interpreter audit trail,
reproducibility, and leverage analysis. Critical failures block
submission; advisory failures are reported only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rs, err := store.LoadRun(ctx, args[0])
		if err != nil {
			return err
		}

		report, err := validateRun(ctx, rs)
		if err != nil {
			return err
		}
		printReport(report)
		if !report.Submittable() {
			return fmt.Errorf("run %s is not submittable", rs.RunID)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateReplay, "replay", false, "re-analyze a sample area to verify reproducibility")
}

func validateRun(ctx context.Context, rs *types.RunState) (*types.ComplianceReport, error) {
	v := compliance.New(logger)
	v.MinDiscoveries = cfg.Compliance.MinDiscoveries
	v.ToleranceM = cfg.Compliance.ToleranceM

	if validateReplay {
		controller, err := buildController(clockwork.NewRealClock(), rs.RunID)
		if err != nil {
			return nil, err
		}
		v.Replayer = controller
	}

	report := v.Validate(ctx, rs)
	if err := store.SaveComplianceReport(ctx, rs.RunID, report); err != nil {
		return nil, err
	}
	return report, nil
}

func printReport(report *types.ComplianceReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Compliance Report ==="))
	for _, c := range report.Checks {
		mark := green("PASS")
		if c.Status == types.CheckFail {
			if c.Critical {
				mark = red("FAIL")
			} else {
				mark = yellow("FAIL (advisory)")
			}
		}
		fmt.Printf("  [%s] %s\n", mark, c.Name)
		if c.Reason != "" {
			fmt.Printf("         %s\n", c.Reason)
		}
	}
	fmt.Println()
	if report.Submittable() {
		fmt.Printf("Overall: %s\n", green("PASS"))
	} else {
		fmt.Printf("Overall: %s\n", red("FAIL"))
	}
}
