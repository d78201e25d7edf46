package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/store"
)

var (
	watchRmHard    bool
	watchLsDisplay int
	watchLsStart   int
	watchLsSort    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage watch entries",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <user> <item-id>",
	Short: "Subscribe a user to an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entry, err := svc.AddWatch(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("watch %s: %s -> %s\n", entry.ID, entry.UserID, entry.ItemID)
		return nil
	},
}

var watchRmCmd = &cobra.Command{
	Use:   "rm <user> <item-id>",
	Short: "Unsubscribe a user from an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := svc.RemoveWatch(ctx, args[0], args[1], watchRmHard); err != nil {
			return err
		}

		fmt.Println("watch removed")
		return nil
	},
}

var watchLsCmd = &cobra.Command{
	Use:   "ls <user>",
	Short: "List a user's watch entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, total, err := svc.ListWatches(ctx, args[0], store.WatchPage{
			Display: watchLsDisplay,
			Start:   watchLsStart,
			Sort:    watchLsSort,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%d watch entries (%d total)\n", len(entries), total)
		for _, e := range entries {
			status := "active"
			if !e.IsActive {
				status = "inactive"
			}
			fmt.Printf("  %s  item=%s  %s  since %s\n",
				e.ID, e.ItemID, status, e.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	watchRmCmd.Flags().BoolVar(&watchRmHard, "hard", false, "delete the entry instead of deactivating it")
	watchLsCmd.Flags().IntVar(&watchLsDisplay, "display", 10, "entries per page, 1-100")
	watchLsCmd.Flags().IntVar(&watchLsStart, "start", 1, "1-based page offset")
	watchLsCmd.Flags().StringVar(&watchLsSort, "sort", "", "sort order: date, asc, dsc")
	watchCmd.AddCommand(watchAddCmd, watchRmCmd, watchLsCmd)
	rootCmd.AddCommand(watchCmd)
}
