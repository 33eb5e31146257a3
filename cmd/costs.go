package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DevCabin/ClawLess/pkg/models"
)

const defaultCostDays = 7

func costsCmd() *cobra.Command {
	var (
		fromFlag string
		toFlag   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show daily ledger totals per backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openLedger(ctx); err != nil {
				return err
			}

			to := a.ledger.Now().UTC()
			if toFlag != "" {
				if to, err = time.Parse(models.DateLayout, toFlag); err != nil {
					return fmt.Errorf("invalid --to %q: want YYYY-MM-DD", toFlag)
				}
			}
			from := to.AddDate(0, 0, -(defaultCostDays - 1))
			if fromFlag != "" {
				if from, err = time.Parse(models.DateLayout, fromFlag); err != nil {
					return fmt.Errorf("invalid --from %q: want YYYY-MM-DD", fromFlag)
				}
			}
			if from.After(to) {
				return fmt.Errorf("--from %s is after --to %s", models.LedgerDate(from), models.LedgerDate(to))
			}

			records, err := a.ledger.Range(ctx, from, to)
			if err != nil {
				return fmt.Errorf("reading ledger: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if records == nil {
					records = []models.CostRecord{}
				}
				return printJSON(out, records)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tBACKEND\tEXECUTIONS\tTOKENS IN\tTOKENS OUT\tCOST (USD)")
			var total float64
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.4f\n",
					r.Date, r.Backend, r.ExecutionCount, r.TokensIn, r.TokensOut, r.CostUSD)
				total += r.CostUSD
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "TOTAL\t\t\t\t\t%.4f\n", total)
			return w.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&fromFlag, "from", "", "first day, YYYY-MM-DD (default: six days before --to)")
	f.StringVar(&toFlag, "to", "", "last day, YYYY-MM-DD (default: today, UTC)")
	f.BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
