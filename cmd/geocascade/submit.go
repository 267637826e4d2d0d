package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skookum/geocascade/internal/submission"
)

var (
	submitOut   string
	submitForce bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <run-id>",
	Short: "Build a submission package from a completed run",
	Long: `Validate the run and, if it passes, write a ranked submission
package (package.json plus footprints.wkt) to the output directory.`,
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
		if !report.Submittable() && !submitForce {
			return fmt.Errorf("run %s failed compliance; fix the failures above or pass --force", rs.RunID)
		}

		builder := submission.NewBuilder(logger)
		pkg, err := builder.Build(rs, report)
		if err != nil {
			return err
		}

		dir := submitOut
		if dir == "" {
			dir = filepath.Join(cfg.OutputDir, rs.RunID)
		}
		if err := builder.Write(pkg, dir); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("\n%s wrote %d ranked discoveries to %s\n",
			green("✓"), len(pkg.Top)+len(pkg.Others), dir)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitOut, "out", "", "output directory (default <output_dir>/<run-id>)")
	submitCmd.Flags().BoolVar(&submitForce, "force", false, "package the run even when critical validation checks fail")
	submitCmd.Flags().BoolVar(&validateReplay, "replay", false, "re-analyze a sample area to verify reproducibility")
}
