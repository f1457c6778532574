package cmd

import (
	"fmt"
	"scrunch/cmd/scrunch/globals"
	"scrunch/cmd/scrunch/utils"
	"scrunch/lib/scrunch"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	projectsCmd.AddCommand(projectsListCmd)
	rootCmd.AddCommand(projectsCmd)
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Browse projects.",
}

var projectsListCmd = &cobra.Command{
	Use:   "ls <project> [path]",
	Short: "List the subprojects and datasets of a project, '| A | B' style paths.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		site, err := globals.Get(ctx).Site(ctx)
		if err != nil {
			return err
		}
		p, err := site.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if len(args) == 2 {
			p, err = p.Get(ctx, args[1])
			if err != nil {
				return err
			}
		}
		if legacy := p.Order(ctx).Legacy; legacy != nil {
			root, err := legacy.Root(ctx)
			if err != nil {
				return err
			}
			fmt.Println(root.HierarchyString())
			return nil
		}
		children, err := p.Children(ctx)
		if err != nil {
			return err
		}

		t := utils.NewTable()
		t.SetTitle(p.Name())
		t.AppendHeader(table.Row{"name", "kind", "url"})
		for _, child := range children {
			kind := "dataset"
			if _, ok := child.(*scrunch.Project); ok {
				kind = "project"
			}
			t.AppendRow(table.Row{child.Name(), kind, child.URL()})
		}
		t.Render()
		return nil
	},
}
