package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"osline/internal/app"
	"osline/internal/domain"
	"osline/internal/repo"
)

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage who holds each role",
		Long:  "Roles: ROTEIRISTA, AUDIO, VIDEO, EDITOR, REVISOR, CRISPIM, SOCIAL, ADMIN. The least busy holder of a role is assigned when an order enters its stage.",
	}
	cmd.AddCommand(directoryGrantCmd())
	cmd.AddCommand(directoryRevokeCmd())
	cmd.AddCommand(directoryListCmd())
	return cmd
}

func directoryGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user-id> <role>",
		Short: "Grant a role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				role := domain.Role(strings.ToUpper(args[1]))
				if err := a.Directory.Grant(ctx, a.Config.Org.ID, args[0], role); err != nil {
					return err
				}
				fmt.Printf("granted %s to %s\n", role, args[0])
				return nil
			})
		},
	}
}

func directoryRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id> <role>",
		Short: "Revoke a role from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				role := domain.Role(strings.ToUpper(args[1]))
				removed, err := a.Directory.Revoke(ctx, a.Config.Org.ID, args[0], role)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s does not hold %s", args[0], role)
				}
				fmt.Printf("revoked %s from %s\n", role, args[0])
				return nil
			})
		},
	}
}

func directoryListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Directory.List(ctx, a.Config.Org.ID, domain.Role(strings.ToUpper(role)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				load, err := a.Repo.CountActiveByResponsible(ctx, a.Config.Org.ID)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role", "Active orders"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.UserID, it.Role, load[it.UserID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func slaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sla", Short: "SLA monitor"}
	cmd.AddCommand(slaSweepCmd())
	cmd.AddCommand(slaStatusCmd())
	return cmd
}

func slaSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Flag overdue and at-risk orders and notify once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Monitor.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
}

func slaStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the SLA position of every active order without notifying",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Monitor.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Priority", "Responsible", "Condition", "Remaining"})
				for _, it := range items {
					tw.AppendRow(table.Row{
						it.Order.ID, it.Order.Title, it.Order.Stage, it.Order.Priority,
						deref(it.Order.ResponsibleUser), it.Condition, it.Remaining.Round(time.Minute),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var action string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.OrgID = a.Config.Org.ID
				f.Action = domain.Action(strings.ToUpper(action))
				items, err := a.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Order", "Actor", "Action", "Detail"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.OrderID, deref(e.ActorID), e.Action, e.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.OrderID, "order", "", "order filter")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	return cmd
}
