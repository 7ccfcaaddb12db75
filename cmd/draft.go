package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costwatch/internal/envelope"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage a project's working draft",
}

var draftEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the envelope and draft if missing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")
		ce, err := env.Service.EnsureDraft(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "draft ensure")
		}

		fmt.Printf("draft %s ready (envelope version %d, %d items)\n",
			ce.Draft.ID, ce.Version, len(ce.Draft.Items))
		return nil
	},
}

var draftItemCmd = &cobra.Command{
	Use:   "item",
	Short: "Upsert a draft item from a JSON file (use - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var data []byte
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return eris.Wrap(err, "draft item: read input")
		}

		var input envelope.ItemInput
		if err := json.Unmarshal(data, &input); err != nil {
			return eris.Wrap(err, "draft item: parse input")
		}

		projectID, _ := cmd.Flags().GetString("project")
		res, err := env.Service.UpsertItem(ctx, projectID, input)
		if err != nil {
			return eris.Wrap(err, "draft item")
		}
		<-res.Settled

		fmt.Printf("draft now holds %d items, actual total %.2f\n",
			len(res.Draft.Items), res.Draft.Totals.ActualTotal)
		return nil
	},
}

var draftAllocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate a purchase-order amount to a draft item",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		params := envelope.AllocationParams{}
		params.ProjectID, _ = cmd.Flags().GetString("project")
		params.ItemID, _ = cmd.Flags().GetString("item")
		params.PurchaseOrderID, _ = cmd.Flags().GetString("po")
		params.BreakdownItemID, _ = cmd.Flags().GetString("row")
		params.Amount, _ = cmd.Flags().GetFloat64("amount")

		res, err := env.Service.AllocatePurchaseToItem(ctx, params)
		if err != nil {
			return eris.Wrap(err, "draft allocate")
		}
		<-res.Settled

		fmt.Println("allocation recorded")
		return nil
	},
}

func init() {
	draftEnsureCmd.Flags().String("project", "", "project id")
	_ = draftEnsureCmd.MarkFlagRequired("project")

	draftItemCmd.Flags().String("project", "", "project id")
	_ = draftItemCmd.MarkFlagRequired("project")

	draftAllocateCmd.Flags().String("project", "", "project id")
	draftAllocateCmd.Flags().String("item", "", "cost item id")
	draftAllocateCmd.Flags().String("po", "", "purchase order id")
	draftAllocateCmd.Flags().String("row", "", "breakdown row id")
	draftAllocateCmd.Flags().Float64("amount", 0, "amount to allocate")
	_ = draftAllocateCmd.MarkFlagRequired("project")
	_ = draftAllocateCmd.MarkFlagRequired("item")
	_ = draftAllocateCmd.MarkFlagRequired("po")

	draftCmd.AddCommand(draftEnsureCmd, draftItemCmd, draftAllocateCmd)
	rootCmd.AddCommand(draftCmd)
}
