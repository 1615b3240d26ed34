package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/magnetar/internal/store"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and load the project graph",
}

var graphLoadCmd = &cobra.Command{
	Use:   "load <fixture.toml>",
	Short: "Load a fixture file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		f, err := store.LoadFixture(args[0])
		if err != nil {
			return err
		}
		if err := f.Apply(ctx, e.store, e.backend); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d projects, %d packages\n",
			len(f.Projects), len(f.Packages))
		return nil
	},
}

var graphShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Print a project and its packages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		prj, err := e.store.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if prj == nil {
			return fmt.Errorf("project %s not found", args[0])
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "project %s\n", prj.Name)
		if prj.Title != "" {
			fmt.Fprintf(out, "  title: %s\n", prj.Title)
		}
		for _, attr := range prj.Attributes {
			fmt.Fprintf(out, "  attribute: %s:%s\n", attr.Namespace, attr.Name)
		}
		for _, repo := range prj.Repositories {
			fmt.Fprintf(out, "  repository: %s\n", repo.Name)
		}
		pkgs, err := e.store.ProjectPackages(ctx, prj.Name)
		if err != nil {
			return err
		}
		for _, pkg := range pkgs {
			line := "  package: " + pkg.Name
			if pkg.Link != nil {
				line += fmt.Sprintf(" -> %s/%s", pkg.Link.Project, pkg.Link.Package)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	graphCmd.AddCommand(graphLoadCmd)
	graphCmd.AddCommand(graphShowCmd)
	rootCmd.AddCommand(graphCmd)
}
