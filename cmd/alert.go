package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch/internal/model"
)

var alertAddTarget int

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage alert rules",
}

var alertAddCmd = &cobra.Command{
	Use:   "add <watch-id> <kind>",
	Short: "Attach a rule to a watch entry",
	Long:  "Kinds: target_price (requires --target), drop_from_previous, new_low.",
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

		var target *int
		if cmd.Flags().Changed("target") {
			target = &alertAddTarget
		}

		rule, err := svc.CreateAlert(ctx, args[0], model.AlertKind(args[1]), target)
		if err != nil {
			return err
		}

		fmt.Printf("alert %s: %s on watch %s\n", rule.ID, rule.Kind, rule.WatchID)
		return nil
	},
}

var alertLsCmd = &cobra.Command{
	Use:   "ls <watch-id>",
	Short: "List the rules on a watch entry",
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

		rules, err := svc.ListAlerts(ctx, args[0])
		if err != nil {
			return err
		}

		for _, r := range rules {
			line := fmt.Sprintf("  %s  %s", r.ID, r.Kind)
			if r.TargetPrice != nil {
				line += fmt.Sprintf("  target=%d", *r.TargetPrice)
			}
			if !r.IsEnabled {
				line += "  (disabled)"
			}
			if r.LastTriggeredAt != nil {
				line += "  last fired " + r.LastTriggeredAt.Format("2006-01-02 15:04")
			}
			fmt.Println(line)
		}
		fmt.Printf("%d rules\n", len(rules))
		return nil
	},
}

func newAlertToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
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

			rule, err := svc.SetAlertEnabled(ctx, args[0], enabled)
			if err != nil {
				return err
			}

			state := "disabled"
			if rule.IsEnabled {
				state = "enabled"
			}
			fmt.Printf("alert %s %s\n", rule.ID, state)
			return nil
		},
	}
}

func init() {
	alertAddCmd.Flags().IntVar(&alertAddTarget, "target", 0, "target price for target_price rules")
	alertCmd.AddCommand(
		alertAddCmd,
		alertLsCmd,
		newAlertToggleCmd("enable <alert-id>", "Enable a rule", true),
		newAlertToggleCmd("disable <alert-id>", "Disable a rule", false),
	)
	rootCmd.AddCommand(alertCmd)
}
