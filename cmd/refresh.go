package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-check the current price of every watched item",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("refresh"); err != nil {
			return err
		}
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		updated, err := svc.Refresh(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("refreshed %d items\n", updated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
