package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/harvest/internal/model"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [account-id...]",
		Short: "Extract accounts and wait for every one to finish",
		Long: "Extract the given accounts, or every stored account when none are given. " +
			"A failing account does not stop the others; the command exits non-zero if any failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.service()
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}

			ids := args
			if len(ids) == 0 {
				accounts, err := db.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				for _, acct := range accounts {
					ids = append(ids, acct.ID)
				}
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No accounts to extract.")
					return nil
				}
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			report, err := svc.Run(ctx, ids)
			if err != nil {
				return err
			}
			printExtractions(cmd, report.Extractions)
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d of %d extractions failed", n, len(report.Extractions))
			}
			return nil
		},
	}
}

func printExtractions(cmd *cobra.Command, extractions []model.Extraction) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tFOUND\tADDED\tRESULT")
	for _, e := range extractions {
		result := "ok"
		switch {
		case e.Error != "":
			result = e.Error
		case !e.Finished():
			result = "running"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.AccountID, e.FoundCt, e.AddCt, result)
	}
	_ = tw.Flush()
}
