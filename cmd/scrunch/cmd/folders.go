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
	foldersCmd.AddCommand(foldersListCmd)
	foldersCmd.AddCommand(foldersMkdirCmd)
	foldersCmd.AddCommand(foldersMoveCmd)
	rootCmd.AddCommand(foldersCmd)
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Navigate and organize the variable folders of a dataset.",
}

func folderAt(cmd *cobra.Command, dataset, path string) (*scrunch.Folder, error) {
	ctx := cmd.Context()
	ds, err := globals.Get(ctx).Dataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return ds.Folders().Folder(ctx, path)
}

var foldersListCmd = &cobra.Command{
	Use:   "ls <dataset> [path]",
	Short: "List the contents of a folder, '| A | B' style paths.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 2 {
			path = args[1]
		}
		folder, err := folderAt(cmd, args[0], path)
		if err != nil {
			return err
		}
		children, err := folder.Children(cmd.Context())
		if err != nil {
			return err
		}

		t := utils.NewTable()
		t.SetTitle(folder.Path())
		t.AppendHeader(table.Row{"name", "kind", "alias"})
		for _, child := range children {
			switch item := child.(type) {
			case *scrunch.Folder:
				t.AppendRow(table.Row{item.Name(), "folder", ""})
			case *scrunch.Variable:
				t.AppendRow(table.Row{item.Name(), item.Type(), item.Alias()})
			}
		}
		t.Render()
		return nil
	},
}

var foldersMkdirCmd = &cobra.Command{
	Use:   "mkdir <dataset> <parent path> <name>",
	Short: "Create a subfolder at the end of a folder.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, err := folderAt(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		created, err := parent.MakeSubfolder(cmd.Context(), args[2], scrunch.AtEnd())
		if err != nil {
			return err
		}
		fmt.Println(created.Path())
		return nil
	},
}

var foldersMoveCmd = &cobra.Command{
	Use:   "mv <dataset> <target path> <item path>...",
	Short: "Move folders or variables into a folder.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		target, err := ds.Folders().Folder(ctx, args[1])
		if err != nil {
			return err
		}
		items := make([]scrunch.Item, 0, len(args)-2)
		for _, path := range args[2:] {
			item, err := ds.Folders().Get(ctx, path)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return target.MoveHere(ctx, items, scrunch.AtEnd())
	},
}
