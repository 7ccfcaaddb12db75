package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Reconcile a tender BOQ into the project draft",
	Long:  "Merges the stored tender BOQ into the working draft. Local edits are preserved; items whose source total moved are flagged as conflicted instead of overwritten.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")
		tenderID, _ := cmd.Flags().GetString("tender")

		res, err := env.Engine.MergeFromTender(ctx, projectID, tenderID)
		if err != nil {
			return eris.Wrap(err, "merge")
		}
		<-res.Settled

		s := res.Stats
		fmt.Printf("merged %d items: %d added, %d updated, %d unchanged, %d conflicted\n",
			s.Total, s.Added, s.Updated, s.Unchanged, s.Conflicted)
		if s.Conflicted > 0 {
			fmt.Println("conflicted items are flagged and need manual reconciliation")
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().String("project", "", "project id")
	mergeCmd.Flags().String("tender", "", "tender id")
	_ = mergeCmd.MarkFlagRequired("project")
	_ = mergeCmd.MarkFlagRequired("tender")
	rootCmd.AddCommand(mergeCmd)
}
