package main

import (
	"fmt"
	"strconv"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/spf13/cobra"
)

func newIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Inspect and generate card identifiers offline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <number>",
		Short: "Check that a number is a well-formed card identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number := cardgen.NormalizePAN(args[0])
			if err := cardgen.ValidateIdentifier(number); err != nil {
				return err
			}
			luhn := "pass"
			if err := cardgen.ValidateLuhn(number); err != nil {
				luhn = "fail (not required)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s well-formed, luhn %s\n", cardgen.MaskPAN(number), luhn)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "generate [count]",
		Short: "Print fresh random identifiers (not reserved by any issuer)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 || n > 10_000 {
					return fmt.Errorf("count must be between 1 and 10000")
				}
				count = n
			}
			src := cardgen.NewSource()
			for i := 0; i < count; i++ {
				id, err := src.Next()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	return cmd
}
