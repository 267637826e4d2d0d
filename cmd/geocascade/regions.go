package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the configured survey regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		priorityColor := map[string]func(a ...interface{}) string{
			"high":   color.New(color.FgRed).SprintFunc(),
			"medium": color.New(color.FgYellow).SprintFunc(),
			"low":    color.New(color.FgGreen).SprintFunc(),
		}

		active := map[string]bool{}
		for _, r := range cfg.SelectedRegions() {
			active[r.ID] = true
		}

		fmt.Printf("\n%s\n\n", cyan("=== Survey Regions ==="))
		for _, r := range cfg.Regions {
			mark := " "
			if active[r.ID] {
				mark = "*"
			}
			pr := r.Priority
			if paint, ok := priorityColor[r.Priority]; ok {
				pr = paint(r.Priority)
			}
			fmt.Printf("  %s %-28s %-8s %8.2f,%8.2f  %s\n",
				mark, r.ID, pr, r.Lat, r.Lon, r.Name)
		}
		fmt.Printf("\n  * selected for the next run (%d of %d)\n\n", len(active), len(cfg.Regions))
		return nil
	},
}
