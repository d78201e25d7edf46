package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/model"
)

var (
	itemsLsLimit      int
	itemsLsOffset     int
	itemsHistoryLimit int
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Inspect tracked items",
}

var itemsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tracked items",
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

		items, err := svc.ListItems(ctx, itemsLsLimit, itemsLsOffset)
		if err != nil {
			return err
		}

		for _, it := range items {
			printItemLine(&it)
		}
		fmt.Printf("%d items\n", len(items))
		return nil
	},
}

var itemsGetCmd = &cobra.Command{
	Use:   "get <item-id>",
	Short: "Show one tracked item",
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

		it, err := svc.GetItem(ctx, args[0])
		if err != nil {
			return err
		}

		printItemLine(it)
		fmt.Printf("  url: %s\n", it.ProductURL)
		if it.MallName != "" {
			fmt.Printf("  mall: %s\n", it.MallName)
		}
		fmt.Printf("  initial price: %d\n", it.InitialPrice)
		if it.LastCheckedAt != nil {
			fmt.Printf("  last checked: %s\n", it.LastCheckedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var itemsHistoryCmd = &cobra.Command{
	Use:   "history <item-id>",
	Short: "Show an item's price history, newest first",
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

		points, err := svc.PriceHistory(ctx, args[0], itemsHistoryLimit)
		if err != nil {
			return err
		}

		for _, p := range points {
			fmt.Printf("  %s  %d\n", p.CheckedAt.Format("2006-01-02 15:04"), p.Price)
		}
		fmt.Printf("%d observations\n", len(points))
		return nil
	},
}

var itemsRmCmd = &cobra.Command{
	Use:   "rm <item-id>",
	Short: "Deactivate a tracked item",
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

		if err := svc.DeactivateItem(ctx, args[0]); err != nil {
			return err
		}

		fmt.Println("item deactivated")
		return nil
	},
}

func printItemLine(it *model.Item) {
	price := "-"
	if it.LastSeenPrice != nil {
		price = fmt.Sprintf("%d", *it.LastSeenPrice)
	}
	min := "-"
	if it.MinPrice != nil {
		min = fmt.Sprintf("%d", *it.MinPrice)
	}
	status := ""
	if !it.IsActive {
		status = "  (inactive)"
	}
	fmt.Printf("%s  %s  price=%s  min7d=%s%s\n", it.ID, it.Title, price, min, status)
}

func init() {
	itemsLsCmd.Flags().IntVar(&itemsLsLimit, "limit", 100, "maximum items to list")
	itemsLsCmd.Flags().IntVar(&itemsLsOffset, "offset", 0, "listing offset")
	itemsHistoryCmd.Flags().IntVar(&itemsHistoryLimit, "limit", 100, "maximum observations to show")
	itemsCmd.AddCommand(itemsLsCmd, itemsGetCmd, itemsHistoryCmd, itemsRmCmd)
	rootCmd.AddCommand(itemsCmd)
}
