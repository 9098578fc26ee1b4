package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func newRootCmd(open opener) *cobra.Command {
	var a *app
	var asJSON bool

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Maintenance jobs for the entitlement ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = open(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.close()
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	get := func() *app { return a }
	out := func(cmd *cobra.Command) printer { return printer{w: cmd.OutOrStdout(), json: asJSON} }

	rootCmd.AddCommand(reconcileCmd(get, out))
	rootCmd.AddCommand(cleanupLocksCmd(get, out))
	rootCmd.AddCommand(cleanupEventsCmd(get, out))
	rootCmd.AddCommand(alertsCmd(get, out))
	rootCmd.AddCommand(riskCmd(get, out))
	return rootCmd
}

type printer struct {
	w    io.Writer
	json bool
}

// emit prints v as JSON, or calls text when JSON output is off.
func (p printer) emit(v interface{}, text func(w io.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(p.w)
	return nil
}

func reconcileCmd(get func() *app, out func(*cobra.Command) printer) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "reconcile-assets",
		Short: "Rewrite every legacy asset location of a user to the reconciled count",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := get().assets.ReconcileAssets(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return out(cmd).emit(rows, func(w io.Writer) {
				for _, r := range rows {
					mark := " "
					if r.Changed {
						mark = "*"
					}
					fmt.Fprintf(w, "%s %-22s %d\n", mark, r.AssetType, r.Value)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func cleanupLocksCmd(get func() *app, out func(*cobra.Command) printer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "cleanup-locks",
		Short: "Release membership upgrade locks older than the lock TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			locks, err := get().membership.CleanupStaleLocks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return out(cmd).emit(locks, func(w io.Writer) {
				cleaned := 0
				for _, l := range locks {
					if l.Cleaned {
						cleaned++
						fmt.Fprintf(w, "released %s (%s)\n", l.UserID, l.Reason)
					}
				}
				fmt.Fprintf(w, "%d of %d locks released\n", cleaned, len(locks))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum locks to inspect")
	return cmd
}

func cleanupEventsCmd(get func() *app, out func(*cobra.Command) printer) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup-ad-events",
		Short: "Delete ad watch events older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := get().monitor.CleanupOldEvents(cmd.Context(), days)
			if err != nil {
				return err
			}
			return out(cmd).emit(map[string]int{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %d ad watch events\n", n)
			})
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "Days of events to keep")
	return cmd
}

func alertsCmd(get func() *app, out func(*cobra.Command) printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect ad anomaly alerts",
	}

	var status, severity string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := get().monitor.ListAlerts(cmd.Context(), core.AlertFilter{
				Status:   models.AlertStatus(status),
				Severity: models.Severity(severity),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			return out(cmd).emit(alerts, func(w io.Writer) {
				for _, al := range alerts {
					printAlert(w, al)
				}
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status")
	list.Flags().StringVar(&severity, "severity", "", "Filter by severity")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum alerts")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print alerts as they are published to the alert queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if a.consume == nil {
				return errors.New("RABBITMQ_URL is not configured")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			p := out(cmd)
			err := a.consume(ctx, func(body []byte) {
				var al models.AnomalyAlert
				if err := json.Unmarshal(body, &al); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed alert: %v\n", err)
					return
				}
				_ = p.emit(al, func(w io.Writer) { printAlert(w, al) })
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.AddCommand(list, watch)
	return cmd
}

func printAlert(w io.Writer, al models.AnomalyAlert) {
	kinds := make([]string, 0, len(al.Anomalies))
	for _, an := range al.Anomalies {
		kinds = append(kinds, an.Type)
	}
	fmt.Fprintf(w, "%s  %-6s %-14s user=%s at=%s [%s]\n",
		al.ID, al.Severity, al.Status, al.UserID,
		time.UnixMilli(al.TimestampMs).UTC().Format(time.RFC3339),
		strings.Join(kinds, ","))
}

func riskCmd(get func() *app, out func(*cobra.Command) printer) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "user-risk",
		Short: "Show a user's anomaly risk score",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := get().monitor.GetUserAnomalyStats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return out(cmd).emit(stats, func(w io.Writer) {
				fmt.Fprintf(w, "user %s: score %d (%s), %d alerts (%d high, %d medium, %d low, %d pending)\n",
					stats.UserID, stats.RiskScore, stats.RiskLevel, stats.TotalAlerts,
					stats.High, stats.Medium, stats.Low, stats.Pending)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
