// scripts/prune-runs.go - Manual stale run cleanup tool
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/skookum/geocascade/internal/storage"
)

func main() {
	ctx := context.Background()

	dbPath := ".geocascade/cascade.db"
	if p := os.Getenv("GEOCASCADE_DB_PATH"); p != "" {
		dbPath = p
	}

	fmt.Printf("Connecting to database: %s\n", dbPath)

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// Runs abandoned for a week are unlikely to be resumed.
	threshold := 7 * 24 * time.Hour

	fmt.Printf("Pruning incomplete runs older than %s...\n", threshold)

	pruned, err := store.PruneStaleRuns(ctx, threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during prune: %v\n", err)
		os.Exit(1)
	}

	if pruned > 0 {
		fmt.Printf("✓ Pruned %d stale run(s)\n", pruned)
	} else {
		fmt.Println("✓ No stale runs found")
	}
}
