// duesctl runs HOA dues operations against the configured database.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/duesctl reconcile
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/mmdatafocus/hoa_backend/workflow"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "duesctl",
		Short: "Administer HOA dues: reconcile statuses, set dues, print reports",
	}

	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(duesCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect() *gorm.DB {
	config.ConnectDatabaseWithRetry()
	return config.GetDB()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every live member's status for the current period",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			now, err := utils.ParseDateParam(at, models.PeriodLocation(), time.Now())
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			result, err := workflow.NewReconcilerFromEnv(connect()).Reconcile(context.Background(), now)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().String("at", "", "Evaluate as of this date (YYYY-MM-DD) instead of now")
	return cmd
}

func duesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dues",
		Short: "Read or change the monthly dues amount",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current dues setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			setting, err := workflow.NewDuesRegistry(connect(), nil).Get(context.Background())
			if err != nil {
				return err
			}
			return printJSON(setting)
		},
	})

	set := &cobra.Command{
		Use:   "set [amount]",
		Short: "Change the monthly dues amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := utils.ParseDecimal(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			by, _ := cmd.Flags().GetString("by")
			actor := workflow.Actor{Username: by, Role: utils.RoleOfficial}
			setting, err := workflow.NewDuesRegistry(connect(), nil).Set(context.Background(), amount, actor)
			if err != nil {
				return err
			}
			return printJSON(setting)
		},
	}
	set.Flags().String("by", "duesctl", "Username recorded as the official making the change")
	cmd.AddCommand(set)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Financial reports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "year [year]",
		Short: "Contribution, expense and net totals for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}
			summary, err := workflow.NewFinancialAggregator(connect(), nil).YearTotal(context.Background(), year)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	})

	monthly := &cobra.Command{
		Use:   "monthly",
		Short: "Write the monthly report for a date range as .xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := models.PeriodLocation()
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")
			out, _ := cmd.Flags().GetString("out")
			now := time.Now().In(loc)
			from, err := utils.ParseDateParam(fromRaw, loc, time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc))
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			to, err := utils.ParseDateParam(toRaw, loc, now)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			report, err := workflow.NewFinancialAggregator(connect(), nil).MonthlyReport(context.Background(), from, to)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			return workflow.WriteMonthlyReportXLSX(f, report)
		},
	}
	monthly.Flags().String("from", "", "First day (YYYY-MM-DD), defaults to January 1")
	monthly.Flags().String("to", "", "Last day (YYYY-MM-DD), defaults to today")
	monthly.Flags().StringP("out", "o", "report.xlsx", "Output file")
	cmd.AddCommand(monthly)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [username]",
		Short: "Mint an API bearer token (uses API_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			if role != utils.RoleOfficial && role != utils.RoleMember {
				return fmt.Errorf("role must be %q or %q", utils.RoleOfficial, utils.RoleMember)
			}
			token, err := utils.JwtGenerate(args[0], role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("role", utils.RoleOfficial, "Role claim: official or member")
	return cmd
}
