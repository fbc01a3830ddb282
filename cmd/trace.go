package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/cwbudde/eqfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	traceDataDir string
	traceTail    int
)

var traceCmd = &cobra.Command{
	Use:   "trace <job-id>",
	Short: "Show the cost history of a job",
	Long: `Prints the per-generation best cost recorded while a job ran.
Traces are written by the server under <data-dir>/traces and survive
restarts, so finished and cancelled jobs can still be inspected.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	traceCmd.Flags().IntVar(&traceTail, "tail", 0, "Show only the last N generations (0 = all)")
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	path := filepath.Join(traceDataDir, "traces", jobID+".jsonl")

	reader, err := store.NewTraceReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no trace for job %s under %s", jobID, traceDataDir)
		}
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Trace is empty.")
		return nil
	}

	start := 0
	if traceTail > 0 && len(entries) > traceTail {
		start = len(entries) - traceTail
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GENERATION\tBEST COST\tIMPROVEMENT\tTIME")
	fmt.Fprintln(w, "----------\t---------\t-----------\t----")

	for i := start; i < len(entries); i++ {
		entry := entries[i]
		delta := 0.0
		if i > 0 {
			delta = entries[i-1].Cost - entry.Cost
		}
		fmt.Fprintf(w, "%d\t%.6f\t%.6f\t%s\n",
			entry.Generation,
			entry.Cost,
			delta,
			entry.Timestamp.Format("15:04:05.000"),
		)
	}
	w.Flush()

	first := entries[0]
	last := entries[len(entries)-1]
	improvement := first.Cost - last.Cost

	fmt.Printf("\nGenerations: %d\n", len(entries))
	fmt.Printf("Cost: %.6f -> %.6f", first.Cost, last.Cost)
	if first.Cost > 0 {
		fmt.Printf(" (%.1f%% lower)", improvement/first.Cost*100)
	}
	fmt.Println()
	return nil
}
