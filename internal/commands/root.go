package commands

import (
	"github.com/spf13/cobra"

	"github.com/cleared-dev/harvest/internal/buildinfo"
	"github.com/cleared-dev/harvest/internal/config"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "harvest",
		Short:   "Pull balances and transactions from bank websites into a local store",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", config.FileName, "path to the config file")

	rootCmd.AddCommand(
		newInitCommand(),
		newServeCommand(),
		newExtractorCommand(),
		newRunCommand(),
		newAccountsCommand(),
		newBanksCommand(),
		newMFACommand(),
		newExportCommand(),
	)

	return rootCmd
}
