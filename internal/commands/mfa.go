package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/harvest/internal/mfa"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
)

// mfaChannel is the human side of a challenge.
type mfaChannel interface {
	GetChallenge(ctx context.Context, bankID string) (model.MFAChallenge, error)
	Submit(ctx context.Context, bankID string, u model.MFAUpdate) error
}

type storeChannel struct{ *store.Store }

func (c storeChannel) Submit(ctx context.Context, bankID string, u model.MFAUpdate) error {
	return c.UpdateChallenge(ctx, bankID, u)
}

func newMFACommand() *cobra.Command {
	var url string

	mfaCmd := &cobra.Command{
		Use:   "mfa",
		Short: "Answer MFA challenges raised by running extractions",
	}
	mfaCmd.PersistentFlags().StringVar(&url, "url", "", "service base URL (default: the local store)")

	// open returns the channel and a cleanup func.
	open := func(cmd *cobra.Command) (mfaChannel, func(), error) {
		if url != "" {
			return mfa.NewClient(url, nil), func() {}, nil
		}
		a, err := loadApp(cmd)
		if err != nil {
			return nil, nil, err
		}
		db, err := a.store()
		if err != nil {
			a.close()
			return nil, nil, err
		}
		return storeChannel{db}, a.close, nil
	}

	showCmd := &cobra.Command{
		Use:   "show <bank>",
		Short: "Show the outstanding challenge for a bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			c, err := ch.GetChallenge(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "No challenge for %s.\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Challenge for %s, requested %s\n", c.BankID, c.RequestedAt.Local().Format("2006-01-02 15:04:05"))
			switch {
			case len(c.Options) > 0 && c.Option == nil:
				fmt.Fprintln(out, "Pick a delivery option with --option:")
				for i, opt := range c.Options {
					fmt.Fprintf(out, "  [%d] %s\n", i, opt)
				}
			case c.Code == "":
				fmt.Fprintln(out, "Waiting for a code (submit with --code).")
			default:
				fmt.Fprintln(out, "Answered; waiting for the extractor to pick it up.")
			}
			return nil
		},
	}

	var (
		option int
		code   string
	)
	submitCmd := &cobra.Command{
		Use:   "submit <bank>",
		Short: "Submit an MFA delivery option or one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u model.MFAUpdate
			if cmd.Flags().Changed("option") {
				u.Option = &option
			}
			if code != "" {
				u.Code = &code
			}
			if u.Option == nil && u.Code == nil {
				return errors.New("one of --option or --code is required")
			}

			ch, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			if err := ch.Submit(cmd.Context(), args[0], u); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no challenge for %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted to %s.\n", args[0])
			return nil
		},
	}
	submitCmd.Flags().IntVar(&option, "option", 0, "index of the delivery option")
	submitCmd.Flags().StringVar(&code, "code", "", "one-time code")

	mfaCmd.AddCommand(showCmd, submitCmd)
	return mfaCmd
}
