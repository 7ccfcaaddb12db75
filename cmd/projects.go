package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/costwatch/internal/model"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage project records",
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		contract, _ := cmd.Flags().GetFloat64("contract")
		if id == "" {
			id = uuid.New().String()
		}

		now := time.Now().UTC()
		p := &model.Project{
			ID:            id,
			Name:          name,
			ContractValue: contract,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := env.Store.PutProject(ctx, p); err != nil {
			return eris.Wrap(err, "projects create")
		}

		fmt.Println(p.ID)
		return nil
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List project records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		projects, err := env.Store.ListProjects(ctx)
		if err != nil {
			return eris.Wrap(err, "projects list")
		}
		if len(projects) == 0 {
			fmt.Fprintln(os.Stderr, "No projects found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCONTRACT\tESTIMATED\tACTUAL")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\n",
				p.ID, p.Name, p.ContractValue, p.EstimatedCost, p.ActualCost)
		}
		return w.Flush()
	},
}

var projectsContractCmd = &cobra.Command{
	Use:   "set-contract",
	Short: "Update a project's contract value",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		id, _ := cmd.Flags().GetString("id")
		contract, _ := cmd.Flags().GetFloat64("contract")

		p, err := env.Store.UpdateProject(ctx, id, func(p *model.Project) {
			p.ContractValue = contract
		})
		if err != nil {
			return eris.Wrap(err, "projects set-contract")
		}
		if p == nil {
			return eris.Errorf("project %s not found", id)
		}

		fmt.Printf("%s contract value set to %.2f\n", p.ID, p.ContractValue)
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().String("id", "", "project id (generated when omitted)")
	projectsCreateCmd.Flags().String("name", "", "project name")
	projectsCreateCmd.Flags().Float64("contract", 0, "contract value")
	_ = projectsCreateCmd.MarkFlagRequired("name")

	projectsContractCmd.Flags().String("id", "", "project id")
	projectsContractCmd.Flags().Float64("contract", 0, "contract value")
	_ = projectsContractCmd.MarkFlagRequired("id")
	_ = projectsContractCmd.MarkFlagRequired("contract")

	projectsCmd.AddCommand(projectsCreateCmd, projectsListCmd, projectsContractCmd)
	rootCmd.AddCommand(projectsCmd)
}
