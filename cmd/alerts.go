package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/painpoint-radar/internal/alerts"
	"github.com/sells-group/painpoint-radar/internal/model"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and manage alerts",
}

// -- alerts list --

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		unread, _ := cmd.Flags().GetBool("unread")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := env.Store.ListAlerts(ctx, unread, limit)
		if err != nil {
			return eris.Wrap(err, "alerts list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts found.")
			return nil
		}

		formatAlerts(os.Stdout, list)
		return nil
	},
}

// -- alerts read --

var alertsReadCmd = &cobra.Command{
	Use:   "read <alert-id>",
	Short: "Mark an alert read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "alerts read: invalid id %q", args[0])
		}

		env, err := initStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		ok, err := env.Store.MarkAlertRead(ctx, id)
		if err != nil {
			return eris.Wrap(err, "alerts read")
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Alert %d not found or already read.\n", id)
			return nil
		}
		fmt.Fprintf(os.Stdout, "Alert %d marked read.\n", id)
		return nil
	},
}

// -- alerts sweep --

var alertsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete read alerts past the retention horizon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := alerts.New(env.Store, cfg, nil).Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "alerts sweep")
		}
		fmt.Fprintf(os.Stdout, "Deleted %d read alert(s) older than %d days.\n", n, cfg.Alerts.RetentionDays)
		return nil
	},
}

func formatAlerts(w io.Writer, list []model.Alert) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTYPE\tSEVERITY\tREAD\tMESSAGE")
	for _, a := range list {
		read := "-"
		if a.ReadAt != nil {
			read = a.ReadAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.CreatedAt.Format("2006-01-02 15:04"),
			a.Type,
			a.Severity,
			read,
			a.Message,
		)
	}
	_ = tw.Flush()
}

func init() {
	alertsListCmd.Flags().Bool("unread", false, "only unread alerts")
	alertsListCmd.Flags().Int("limit", 50, "maximum alerts to list")

	alertsCmd.AddCommand(alertsListCmd, alertsReadCmd, alertsSweepCmd)
	rootCmd.AddCommand(alertsCmd)
}
