package main

import (
	"context"
	"fmt"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/spf13/cobra"
)

type obligationOps struct {
	get    func(ctx context.Context, kind model.Kind, idx int) ([]map[string]any, error)
	settle func(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error)
	field  string
}

func obligationsOf(app *service.AppContext) map[string]obligationOps {
	return map[string]obligationOps{
		"advance":      {app.GetAdvances, app.SettleAdvances, "transact_idx"},
		"residual":     {app.GetResiduals, app.SettleResiduals, "settle_idx"},
		"distribution": {app.GetDistributions, app.SettleDistributions, "settle_idx"},
	}
}

func lookupObligation(app *service.AppContext, name string) (obligationOps, error) {
	ops, ok := obligationsOf(app)[name]
	if !ok {
		return obligationOps{}, fmt.Errorf("obligation must be advance, residual or distribution, got %q", name)
	}
	return ops, nil
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the config and connect to every backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ledger:  %s\n", app.Config.Ledger.Mode)
			fmt.Fprintf(out, "cache:   %s\n", app.Config.Cache.Backend)
			fmt.Fprintf(out, "banks:   %v\n", app.Banks.Banks())
			for _, kind := range model.Kinds {
				n, err := app.ContractCount(cmd.Context(), kind)
				if err != nil {
					return failure(err)
				}
				fmt.Fprintf(out, "%-8s %d contracts\n", kind+":", n)
			}
			return nil
		},
	}
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <type> <idx>",
		Short: "Wait until a contract index is visible on the ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, idx, err := contractArgs(args)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.ValidateIndex(cmd.Context(), kind, idx); err != nil {
				return failure(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s contract %d is visible\n", kind, idx)
			return nil
		},
	}
}

func (c *cli) settlementsCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "settlements <type> <idx>",
		Short: "Print a contract's settlements with derived amounts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, idx, err := contractArgs(args)
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if key == "" {
				key = app.Config.Credentials.MasterKey
			}
			settles, err := app.GetSettlements(cmd.Context(), kind, idx, key)
			if err != nil {
				return failure(err)
			}
			return printJSON(cmd.OutOrStdout(), settles)
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "API key to decrypt with (default: master key)")
	return cmd
}

func (c *cli) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <advance|residual|distribution> <type> <idx>",
		Short: "List obligations that are due and unpaid",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, idx, err := contractArgs(args[1:])
			if err != nil {
				return err
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ops, err := lookupObligation(app, args[0])
			if err != nil {
				return err
			}
			items, err := ops.get(cmd.Context(), kind, idx)
			if err != nil {
				return failure(err)
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
}

func (c *cli) settleCmd() *cobra.Command {
	var (
		indexes []int
		txHash  string
	)
	cmd := &cobra.Command{
		Use:   "settle <advance|residual|distribution> <type> <idx>",
		Short: "Pay obligations through the contract's funding rail",
		Long: `Pays each --index once. Obligations that are already paid are skipped.
--tx-hash is required when the funding rail is manual.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, idx, err := contractArgs(args[1:])
			if err != nil {
				return err
			}
			if len(indexes) == 0 {
				return fmt.Errorf("at least one --index is required")
			}
			app, err := c.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ops, err := lookupObligation(app, args[0])
			if err != nil {
				return err
			}
			items := make([]map[string]any, 0, len(indexes))
			for _, i := range indexes {
				item := map[string]any{ops.field: i}
				if txHash != "" {
					item["tx_hash"] = txHash
				}
				items = append(items, item)
			}

			n, err := ops.settle(cmd.Context(), kind, idx, items)
			fmt.Fprintf(cmd.OutOrStdout(), "paid %d of %d\n", n, len(items))
			if err != nil {
				return failure(err)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVarP(&indexes, "index", "i", nil, "Obligation index to pay (repeatable)")
	cmd.Flags().StringVar(&txHash, "tx-hash", "", "External payment reference for the manual rail")
	return cmd
}
