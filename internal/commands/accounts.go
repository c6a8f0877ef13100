package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/harvest/internal/model"
)

func newAccountsCommand() *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the accounts to extract",
	}
	accountsCmd.AddCommand(newAccountsAddCommand(), newAccountsListCommand())
	return accountsCmd
}

func newAccountsAddCommand() *cobra.Command {
	var (
		acct    model.Account
		kind    string
		typ     string
		balance string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct.BankID = strings.ToLower(acct.BankID)
			acct.Kind = model.AccountKind(strings.ToLower(kind))
			acct.Type = model.AccountType(strings.ToLower(typ))
			switch acct.Type {
			case model.AccountTypeAssets, model.AccountTypeLiabilities, model.AccountTypeExpenses:
			default:
				return fmt.Errorf("unknown account type %q", typ)
			}
			if balance != "" {
				amount, err := decimal.NewFromString(balance)
				if err != nil {
					return fmt.Errorf("parsing balance %q: %w", balance, err)
				}
				acct.Balance.Amount = amount
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			db, err := a.store()
			if err != nil {
				return err
			}

			created, err := db.CreateAccount(cmd.Context(), acct)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&acct.ID, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&acct.BankID, "bank", "", "bank id (required)")
	_ = cmd.MarkFlagRequired("bank")
	cmd.Flags().StringVar(&acct.Name, "name", "", "display name")
	cmd.Flags().StringVar(&acct.Number, "number", "", "account number as the bank shows it")
	cmd.Flags().StringVar(&kind, "kind", string(model.AccountKindChecking), "checking, savings, credit, investment or loan")
	cmd.Flags().StringVar(&typ, "type", string(model.AccountTypeAssets), "assets, liabilities or expenses")
	cmd.Flags().StringVar(&acct.Balance.Currency, "currency", model.DefaultCurrency, "balance currency")
	cmd.Flags().StringVar(&balance, "balance", "", "opening balance")
	cmd.Flags().StringVar(&acct.MFAOption, "mfa-option", "", "MFA delivery option to pick without asking")

	return cmd
}

func newAccountsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts and their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			db, err := a.store()
			if err != nil {
				return err
			}

			accounts, err := db.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tBANK\tNAME\tTYPE\tBALANCE\tTXNS")
			for _, acct := range accounts {
				count, err := db.CountTransactions(cmd.Context(), acct.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\t%d\n", acct.ID, acct.BankID, acct.Name, acct.Type,
					acct.Balance.Amount.StringFixed(2), acct.Balance.Currency, count)
			}
			return tw.Flush()
		},
	}
}
