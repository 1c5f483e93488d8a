package main

import (
	"fmt"

	"github.com/alovak/vcard/issuer/models"
	"github.com/alovak/vcard/issuer/network"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAccountCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage issuer accounts",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			address, _ := cmd.Flags().GetString("address")
			acc, err := clientFrom(v).CreateAccount(cmd.Context(), address)
			if err != nil {
				return err
			}
			return printJSON(cmd, acc)
		},
	}
	create.Flags().String("address", "", "TOR wallet address (derived when empty)")

	show := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show an account with its replacement quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFrom(v)
			acc, err := c.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reps, err := c.Replacements(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"account": acc, "replacements": reps})
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

func newCardCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Issue and operate virtual cards",
	}

	issue := &cobra.Command{
		Use:   "issue <account-id> <holder name>",
		Short: "Issue a card; prints the activation code once",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := clientFrom(v).IssueCard(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, card)
		},
	}

	list := &cobra.Command{
		Use:   "list <account-id>",
		Short: "List the cards of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := clientFrom(v).ListCards(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, cards)
		},
	}

	show := &cobra.Command{
		Use:   "show <account-id> <card-id>",
		Short: "Show a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := clientFrom(v).GetCard(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, card)
		},
	}

	activate := &cobra.Command{
		Use:   "activate <account-id> <card-id> <code>",
		Short: "Activate a pending card",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			card, err := clientFrom(v).Activate(cmd.Context(), args[0], args[1], args[2], method)
			if err != nil {
				return err
			}
			return printJSON(cmd, card)
		},
	}
	activate.Flags().String("method", models.VerificationSMS, "verification method (sms, email, app)")

	resend := &cobra.Command{
		Use:   "resend-code <account-id> <card-id>",
		Short: "Send a new activation code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			if err := clientFrom(v).ResendCode(cmd.Context(), args[0], args[1], method); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "activation code sent via %s\n", method)
			return nil
		},
	}
	resend.Flags().String("method", models.VerificationSMS, "verification method (sms, email, app)")

	fund := &cobra.Command{
		Use:   "fund <account-id> <card-id> <amount>",
		Short: "Load funds onto a card",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			source, _ := cmd.Flags().GetString("source")
			txn, err := clientFrom(v).LoadFunds(cmd.Context(), args[0], args[1], amount, source)
			if err != nil {
				return err
			}
			return printJSON(cmd, txn)
		},
	}
	fund.Flags().String("source", "", "funding source recorded on the credit")

	pay := &cobra.Command{
		Use:   "pay <account-id> <card-id> <amount> <merchant>",
		Short: "Debit a card for a purchase",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			c := clientFrom(v)
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				res, err := c.Validate(cmd.Context(), args[0], args[1], amount)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}
			description, _ := cmd.Flags().GetString("description")
			txn, err := c.Pay(cmd.Context(), args[0], args[1], amount, args[3], description)
			if err != nil {
				return err
			}
			return printJSON(cmd, txn)
		},
	}
	pay.Flags().String("description", "", "transaction description")
	pay.Flags().Bool("dry-run", false, "only validate the debit")

	history := &cobra.Command{
		Use:   "transactions <account-id> <card-id>",
		Short: "List the ledger of a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			txns, err := clientFrom(v).Transactions(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, txns)
		},
	}

	replace := &cobra.Command{
		Use:   "replace <account-id> <card-id>",
		Short: "Replace a card with a new number",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, _ := cmd.Flags().GetString("holder")
			card, err := clientFrom(v).Replace(cmd.Context(), args[0], args[1], holder)
			if err != nil {
				return err
			}
			return printJSON(cmd, card)
		},
	}
	replace.Flags().String("holder", "", "holder name for the new card (defaults to the old one)")

	export := &cobra.Command{
		Use:   "export <account-id> <card-id>",
		Short: "Export a card with its wallet address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := clientFrom(v).Export(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.AddCommand(issue, list, show, activate, resend, fund, pay, history, replace, export)
	return cmd
}

func newPoolCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the identifier pool",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pool size and issued count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFrom(v).PoolStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	})
	return cmd
}

func newNetworkCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Act as a card network",
	}

	authorize := &cobra.Command{
		Use:   "authorize <card-number> <amount>",
		Short: "Send an ISO 8583 authorization request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			expiry, _ := cmd.Flags().GetString("expiry")
			stan, _ := cmd.Flags().GetString("stan")
			merchant, _ := cmd.Flags().GetString("merchant")

			resp, err := clientFrom(v).Authorize(cmd.Context(), network.Request{
				CardNumber: args[0],
				ExpiryYYMM: expiry,
				Amount:     amount,
				STAN:       stan,
				Merchant:   merchant,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"approval_code":      string(resp.ApprovalCode),
				"authorization_code": resp.AuthorizationCode,
				"stan":               resp.STAN,
			})
		},
	}
	authorize.Flags().String("expiry", "", "card expiry as YYMM")
	authorize.Flags().String("stan", "000001", "system trace audit number")
	authorize.Flags().String("merchant", "CLI merchant", "merchant name and location")

	cmd.AddCommand(authorize)
	return cmd
}
