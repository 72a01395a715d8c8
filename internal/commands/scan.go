package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/stmtimport/internal/importer"
)

func newScanCommand() *cobra.Command {
	var repoDir string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List statement files waiting in import/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := filepath.Abs(repoDir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			return runScan(absDir)
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "repository directory")

	return cmd
}

func runScan(repoRoot string) error {
	files, err := importer.DefaultRegistry().Scan(repoRoot)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No statement files in import/")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tFORMAT\tSIZE")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%d\n", f.Name, f.Format, f.Size)
	}
	return w.Flush()
}
