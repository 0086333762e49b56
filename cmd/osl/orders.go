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
	"osline/internal/engine"
	"osline/internal/repo"
)

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "Manage service orders"}
	cmd.AddCommand(orderCreateCmd())
	cmd.AddCommand(orderShowCmd())
	cmd.AddCommand(orderListCmd())
	cmd.AddCommand(orderAdvanceCmd())
	cmd.AddCommand(orderRejectCmd())
	cmd.AddCommand(orderPostedCmd())
	return cmd
}

func orderCreateCmd() *cobra.Command {
	var opts engine.CreateOrderOptions
	var priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a service order in ROTEIRO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.OrgID = a.Config.Org.ID
				opts.Priority = domain.Priority(strings.ToUpper(priority))
				opts.ActorID = actorID()
				o, err := a.Engine.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "order id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "order title")
	cmd.Flags().StringVar(&priority, "priority", "MEDIUM", "LOW, MEDIUM or HIGH")
	return cmd
}

type orderDetail struct {
	domain.ServiceOrder
	Checklist []domain.ChecklistItem `json:"checklist"`
	Assets    []domain.Asset         `json:"assets"`
}

func orderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order with its checklist and assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Repo.GetOrder(ctx, args[0])
				if err != nil {
					return fmt.Errorf("order %s: %w", args[0], err)
				}
				items, err := a.Repo.ListChecklistItems(ctx, o.ID, "")
				if err != nil {
					return err
				}
				assets, err := a.Repo.ListAssets(ctx, o.ID, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(orderDetail{ServiceOrder: o, Checklist: items, Assets: assets})
			})
		},
	}
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	var stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.OrgID = a.Config.Org.ID
				f.Stage = domain.Stage(strings.ToUpper(stage))
				orders, err := a.Repo.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Priority", "Responsible", "Deadline"})
				for _, o := range orders {
					deadline := ""
					if o.SLADeadline != nil {
						deadline = o.SLADeadline.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{o.ID, o.Title, o.Stage, o.Priority, deref(o.ResponsibleUser), deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().BoolVar(&f.Active, "active", false, "only orders not yet posted")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func orderAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <order-id>",
		Short: "Move an order to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stage, err := a.Engine.Advance(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printTransition(args[0], stage)
			})
		},
	}
}

func orderRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <order-id>",
		Short: "Send an order back to the previous stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stage, err := a.Engine.Reject(ctx, args[0], reason, actorID())
				if err != nil {
					return err
				}
				return printTransition(args[0], stage)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the work is sent back")
	return cmd
}

func orderPostedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posted <order-id>",
		Short: "Record the publishing confirmation for an order in AGENDAMENTO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.MarkPosted(ctx, args[0]); err != nil {
					return err
				}
				return printTransition(args[0], domain.StagePostado)
			})
		},
	}
}

func printTransition(orderID string, stage domain.Stage) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"order_id": orderID, "stage": stage})
	}
	fmt.Printf("%s -> %s\n", orderID, stage)
	return nil
}

func checklistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checklist", Short: "Manage stage checklists"}
	cmd.AddCommand(checklistAddCmd())
	cmd.AddCommand(checklistDoneCmd())
	cmd.AddCommand(checklistListCmd())
	return cmd
}

func checklistAddCmd() *cobra.Command {
	var title, stage string
	var optional bool
	cmd := &cobra.Command{
		Use:   "add <order-id>",
		Short: "Add a checklist item (defaults to the order's current stage)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.AddChecklistItem(ctx, args[0], domain.Stage(strings.ToUpper(stage)), title, !optional, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "item title")
	cmd.Flags().StringVar(&stage, "stage", "", "stage the item belongs to")
	cmd.Flags().BoolVar(&optional, "optional", false, "item does not block advancing")
	return cmd
}

func checklistDoneCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <item-id>",
		Short: "Mark a checklist item done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.CompleteChecklistItem(ctx, args[0], !undo, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "reopen the item")
	return cmd
}

func checklistListCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "list <order-id>",
		Short: "List checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListChecklistItems(ctx, args[0], domain.Stage(strings.ToUpper(stage)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Stage", "Title", "Required", "Done"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Stage, it.Title, it.Required, it.Done})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	return cmd
}

func assetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "asset", Short: "Manage produced assets"}
	cmd.AddCommand(assetAddCmd())
	return cmd
}

func assetAddCmd() *cobra.Command {
	var kind, uri string
	cmd := &cobra.Command{
		Use:   "add <order-id>",
		Short: "Record an asset (SCRIPT, AUDIO, RAW_VIDEO, FIRST_EDIT, CAPTION, THUMBNAIL, ART)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				asset, err := a.Engine.AddAsset(ctx, args[0], domain.AssetKind(strings.ToUpper(kind)), uri, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(asset)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "asset kind")
	cmd.Flags().StringVar(&uri, "uri", "", "where the asset lives")
	return cmd
}

func approveCmd() *cobra.Command {
	var gate string
	var revoke bool
	cmd := &cobra.Command{
		Use:   "approve <order-id>",
		Short: "Set the internal (REVISAO) or external (APROVACAO) approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Engine.SetApproval(ctx, args[0], engine.Gate(strings.ToLower(gate)), !revoke, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&gate, "gate", string(engine.GateInternal), "internal or external")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "clear the approval instead")
	return cmd
}
