package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a project's envelope status and cost decomposition",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")
		ce, err := env.Service.GetEnvelope(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if ce == nil {
			fmt.Fprintln(os.Stderr, "no envelope for this project")
			return nil
		}

		p := message.NewPrinter(language.English)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

		fmt.Fprintf(w, "project\t%s\tversion\t%d\n", ce.ProjectID, ce.Version)
		if ce.Draft != nil {
			t := ce.Draft.Totals
			p.Fprintf(w, "draft\testimated %.2f\tactual %.2f\tvariance %.2f (%.2f%%)\n",
				t.EstimatedTotal, t.ActualTotal, t.VarianceTotal, t.VariancePct)
		}
		if ce.Official != nil {
			t := ce.Official.Totals
			p.Fprintf(w, "official\testimated %.2f\tactual %.2f\tvariance %.2f (%.2f%%)\n",
				t.EstimatedTotal, t.ActualTotal, t.VarianceTotal, t.VariancePct)
		}
		if m := ce.Meta.Profit; m != nil {
			p.Fprintf(w, "profit\texpected %.2f\tactual %.2f\terosion %.2f (%.2f%%)\n",
				m.ExpectedProfit, m.ActualProfit, m.ErosionValue, m.ErosionPct)
		}

		if ce.Draft != nil {
			d, err := env.Service.ComputeActualCostDecomposition(ctx, projectID)
			if err != nil {
				return eris.Wrap(err, "status: decomposition")
			}
			p.Fprintf(w, "materials\t%.2f\n", d.Materials)
			p.Fprintf(w, "labor\t%.2f\n", d.Labor)
			p.Fprintf(w, "equipment\t%.2f\n", d.Equipment)
			p.Fprintf(w, "subcontractors\t%.2f\n", d.Subcontractors)
			p.Fprintf(w, "markups\tadmin %.2f\toperational %.2f\tprofit %.2f\n",
				d.Administrative, d.Operational, d.Profit)
			p.Fprintf(w, "actual total\t%.2f\n", d.Total)
		}

		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().String("project", "", "project id")
	_ = statusCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(statusCmd)
}
