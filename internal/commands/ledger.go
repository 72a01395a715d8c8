package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/stmtimport/internal/config"
	"github.com/cleared-dev/stmtimport/internal/ledger"
)

func newLedgerCommand() *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}
	ledgerCmd.AddCommand(newLedgerListCommand())
	return ledgerCmd
}

func newLedgerListCommand() *cobra.Command {
	var repoDir string
	var account string
	var month string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, repoDir)
			if err != nil {
				return err
			}
			if err := r.checkAccount(account); err != nil {
				return err
			}
			if r.cfg.Store.Driver != config.DriverCSV {
				return fmt.Errorf("ledger list reads the csv store; store.driver is %s", r.cfg.Store.Driver)
			}
			return runLedgerList(ledger.NewStore(r.root, r.log), account, month)
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "repository directory")
	cmd.Flags().StringVar(&account, "account", "", "bank account id (required)")
	cmd.Flags().StringVar(&month, "month", "", "only this month, as YYYY-MM")

	return cmd
}

func runLedgerList(st *ledger.Store, account, month string) error {
	var recs []ledger.Record
	if month != "" {
		m, err := time.Parse("2006-01", month)
		if err != nil {
			return fmt.Errorf("invalid --month %q: want YYYY-MM", month)
		}
		recs, err = st.ReadMonth(account, m.Year(), int(m.Month()))
		if err != nil {
			return err
		}
	} else {
		var err error
		recs, err = st.All(account)
		if err != nil {
			return err
		}
	}

	if len(recs) == 0 {
		fmt.Printf("No transactions for %s\n", account)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tAMOUNT\tDESCRIPTION\tREFERENCE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Date.Format("2006-01-02"), r.Amount.StringFixed(2), r.Description, r.Reference)
	}
	return w.Flush()
}
