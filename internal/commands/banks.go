package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBanksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List the banks the extractor supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.service()
			if err != nil {
				return err
			}
			catalog, err := svc.Catalog(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAMES\tKINDS\tMAX SPAN")
			for _, info := range catalog {
				kinds := make([]string, len(info.Kinds))
				for i, k := range info.Kinds {
					kinds[i] = string(k)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dmo\n", info.ID, strings.Join(info.Names, ", "), strings.Join(kinds, ","), info.MaxSpanMonths)
			}
			return tw.Flush()
		},
	}
}
