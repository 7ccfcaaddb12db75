package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costwatch/internal/boqxlsx"
)

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Import a tender BOQ workbook into the tender store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")
		tenderID, _ := cmd.Flags().GetString("tender")
		sheet, _ := cmd.Flags().GetString("sheet")
		skipRows, _ := cmd.Flags().GetInt("skip-rows")

		res, err := boqxlsx.ReadTenderBOQ(args[0], boqxlsx.Options{
			SheetName: sheet,
			SkipRows:  skipRows,
			Columns:   boqxlsx.DefaultColumnMap(),
			ProjectID: projectID,
			TenderID:  tenderID,
		})
		if err != nil {
			return eris.Wrap(err, "import")
		}

		if err := env.Store.PutTenderBOQ(ctx, tenderID, res.Snapshot); err != nil {
			return eris.Wrap(err, "import: store tender BOQ")
		}

		fmt.Printf("imported %d items from %d rows (%d skipped), estimated total %.2f\n",
			len(res.Snapshot.Items), res.Rows, res.Skipped, res.Snapshot.Totals.EstimatedTotal)
		return nil
	},
}

func init() {
	importCmd.Flags().String("project", "", "project id")
	importCmd.Flags().String("tender", "", "tender id to store the BOQ under")
	importCmd.Flags().String("sheet", "", "sheet name (default: first sheet)")
	importCmd.Flags().Int("skip-rows", 1, "header rows to skip")
	_ = importCmd.MarkFlagRequired("project")
	_ = importCmd.MarkFlagRequired("tender")
	rootCmd.AddCommand(importCmd)
}
