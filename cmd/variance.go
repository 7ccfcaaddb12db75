package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/costwatch/internal/model"
	"github.com/sells-group/costwatch/internal/variance"
)

var varianceCmd = &cobra.Command{
	Use:   "variance",
	Short: "Run and inspect variance analysis",
}

var varianceAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one project, or all projects with --all",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		force, _ := cmd.Flags().GetBool("force")
		all, _ := cmd.Flags().GetBool("all")
		opts := variance.AnalyzeOptions{Force: force}

		if !all {
			projectID, _ := cmd.Flags().GetString("project")
			if projectID == "" {
				return eris.New("either --project or --all is required")
			}
			entry, err := env.Analyzer.AnalyzeProject(ctx, projectID, opts)
			if err != nil {
				return eris.Wrap(err, "variance analyze")
			}
			printAlerts(entry)
			return nil
		}

		projects, err := env.Store.ListProjects(ctx)
		if err != nil {
			return eris.Wrap(err, "variance analyze: list projects")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Analyze.MaxConcurrentProjects)

		var alertTotal atomic.Int64
		for _, p := range projects {
			g.Go(func() error {
				entry, err := env.Analyzer.AnalyzeProject(gctx, p.ID, opts)
				if err != nil {
					zap.L().Error("analysis failed",
						zap.String("project", p.ID), zap.Error(err))
					return nil // don't abort the batch on one project
				}
				alertTotal.Add(int64(len(entry.Alerts)))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("analyzed %d projects, %d alerts\n", len(projects), alertTotal.Load())
		return nil
	},
}

var varianceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached analysis for a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")
		entry, err := env.Analyzer.GetCachedAnalysis(ctx, projectID)
		if err != nil {
			return eris.Wrap(err, "variance show")
		}
		if entry == nil {
			fmt.Fprintln(os.Stderr, "project has never been analyzed")
			return nil
		}
		printAlerts(entry)
		return nil
	},
}

var varianceConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update a project's variance config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetString("project")

		patch := variance.ConfigPatch{}
		changed := false
		if cmd.Flags().Changed("enabled") {
			v, _ := cmd.Flags().GetBool("enabled")
			patch.Enabled = &v
			changed = true
		}
		if cmd.Flags().Changed("item-pct") || cmd.Flags().Changed("project-pct") || cmd.Flags().Changed("erosion-pct") {
			current, err := env.Analyzer.GetProjectConfig(ctx, projectID)
			if err != nil {
				return eris.Wrap(err, "variance config")
			}
			t := current.Thresholds
			if cmd.Flags().Changed("item-pct") {
				t.ItemVariancePct, _ = cmd.Flags().GetFloat64("item-pct")
			}
			if cmd.Flags().Changed("project-pct") {
				t.ProjectVariancePct, _ = cmd.Flags().GetFloat64("project-pct")
			}
			if cmd.Flags().Changed("erosion-pct") {
				t.ErosionPct, _ = cmd.Flags().GetFloat64("erosion-pct")
			}
			patch.Thresholds = &t
			changed = true
		}

		var out *model.ProjectVarianceConfig
		if changed {
			out, err = env.Analyzer.UpdateProjectConfig(ctx, projectID, patch)
		} else {
			out, err = env.Analyzer.GetProjectConfig(ctx, projectID)
		}
		if err != nil {
			return eris.Wrap(err, "variance config")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func printAlerts(entry *model.VarianceCacheEntry) {
	if len(entry.Alerts) == 0 {
		fmt.Printf("no alerts (%d items checked at %s)\n",
			entry.Stats.ItemsChecked, entry.RunAt.Format("2006-01-02 15:04:05"))
		return
	}
	for _, a := range entry.Alerts {
		fmt.Printf("[%s] %s: %s\n", a.Level, a.Type, a.Message)
	}
	fmt.Printf("%d alerts, %d/%d items breached\n",
		len(entry.Alerts), entry.Stats.ItemsBreached, entry.Stats.ItemsChecked)
}

func init() {
	varianceAnalyzeCmd.Flags().String("project", "", "project id")
	varianceAnalyzeCmd.Flags().Bool("all", false, "analyze every known project")
	varianceAnalyzeCmd.Flags().Bool("force", false, "recompute even when the cache is fresh")

	varianceShowCmd.Flags().String("project", "", "project id")
	_ = varianceShowCmd.MarkFlagRequired("project")

	varianceConfigCmd.Flags().String("project", "", "project id")
	varianceConfigCmd.Flags().Bool("enabled", true, "enable or disable analysis")
	varianceConfigCmd.Flags().Float64("item-pct", 0, "item variance threshold (percent)")
	varianceConfigCmd.Flags().Float64("project-pct", 0, "project variance threshold (percent)")
	varianceConfigCmd.Flags().Float64("erosion-pct", 0, "profit erosion threshold (percent)")
	_ = varianceConfigCmd.MarkFlagRequired("project")

	varianceCmd.AddCommand(varianceAnalyzeCmd, varianceShowCmd, varianceConfigCmd)
	rootCmd.AddCommand(varianceCmd)
}
