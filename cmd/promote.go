package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Freeze the draft into the official baseline",
	Long:  "Deep-copies the current draft into the official snapshot and pushes the promoted cost figures back onto the project record. The draft survives and keeps accepting edits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")
		res, err := env.Service.Promote(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "promote")
		}
		<-res.Settled

		official := res.Envelope.Official
		fmt.Printf("promoted: estimated %.2f, actual %.2f, variance %.2f%%\n",
			official.Totals.EstimatedTotal, official.Totals.ActualTotal, official.Totals.VariancePct)
		return nil
	},
}

func init() {
	promoteCmd.Flags().String("project", "", "project id")
	_ = promoteCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(promoteCmd)
}
