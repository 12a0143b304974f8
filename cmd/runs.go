package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/vidproc/internal/store"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if DB == nil {
			return errNoLedger
		}
		runs, err := DB.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

var errNoLedger = fmt.Errorf("%w: no run ledger configured (use --db or POSTGRES_HOST)", types.ErrUsage)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Show at most this many runs (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tMODE\tSTATE\tFRAMES\tINPUT\tOUTPUT")
	fmt.Fprintln(w, "--\t-------\t----\t-----\t------\t-----\t------")

	for _, r := range runs {
		output := r.OutputPath
		if output == "" {
			output = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID.String()[:8], humanize.Time(r.StartedAt), r.Mode, r.State, r.Frames, r.InputPath, output)
	}
	w.Flush()
}
