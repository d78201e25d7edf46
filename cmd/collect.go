package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/track"
)

var (
	collectCategory string
	collectTotal    int
	collectPageSize int
	collectSort     string
	collectStrict   bool
)

var collectCmd = &cobra.Command{
	Use:   "collect <query>",
	Short: "Search the shopping API and record the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("collect"); err != nil {
			return err
		}
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pageSize := collectPageSize
		if pageSize == 0 {
			pageSize = cfg.Collect.DefaultPageSize
		}
		sort := collectSort
		if sort == "" {
			sort = cfg.Collect.DefaultSort
		}

		processed, err := svc.Collect(ctx, track.CollectParams{
			Query:    args[0],
			Category: collectCategory,
			Total:    collectTotal,
			PageSize: pageSize,
			Sort:     sort,
			Strict:   collectStrict,
		})
		if err != nil {
			return err
		}

		fmt.Printf("collected %d records for %q\n", processed, args[0])
		return nil
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectCategory, "category", "", "category filter (default from config)")
	collectCmd.Flags().IntVar(&collectTotal, "total", 100, "target number of records")
	collectCmd.Flags().IntVar(&collectPageSize, "page-size", 0, "records per API page, 1-100 (default from config)")
	collectCmd.Flags().StringVar(&collectSort, "sort", "", "sort order: sim, date, asc, dsc (default from config)")
	collectCmd.Flags().BoolVar(&collectStrict, "strict", false, "abort on the first malformed record instead of skipping it")
	rootCmd.AddCommand(collectCmd)
}
