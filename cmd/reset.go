package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetLedger   bool
	resetPartials string
	resetYes      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (run ledger, leftover partial outputs)",
	Long:  "Drops the run ledger tables by default. Use --partials to also delete partial outputs left behind by killed runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing the ledger
		if !resetLedger && resetPartials == "" {
			resetLedger = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetLedger {
			if DB == nil {
				return errNoLedger
			}
			if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all run ledger tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset database: %w", err)
				}
			}
		}

		if resetPartials != "" {
			found, err := findPartials(resetPartials)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("No partial outputs found.")
			} else if resetYes || confirm(reader, fmt.Sprintf("⚠️  Delete %d partial outputs under %s?", len(found), resetPartials)) {
				fmt.Println("🗑️  Clearing Partial Outputs...")
				for _, p := range found {
					removeAll(p)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Drop the PostgreSQL run ledger")
	resetCmd.Flags().StringVar(&resetPartials, "partials", "", "Delete partial outputs (.name.partial.ext files and name.partial directories) in this directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// findPartials lists the staging files and directories that sinks leave behind
// when a run is killed before it can clean up.
func findPartials(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to list %s: %w", dir, err)
	}
	var found []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir() && strings.HasSuffix(name, ".partial"):
		case !e.IsDir() && strings.HasPrefix(name, ".") && strings.Contains(name, ".partial"):
		default:
			continue
		}
		found = append(found, filepath.Join(dir, name))
	}
	return found, nil
}

func removeAll(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
