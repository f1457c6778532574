package cmd

import (
	"fmt"
	"scrunch/cmd/scrunch/globals"
	"scrunch/lib/scrunch"

	"github.com/spf13/cobra"
)

var (
	movePosition int
	moveBefore   string
	moveAfter    string
)

func init() {
	orderMoveCmd.Flags().IntVar(&movePosition, "position", -1, "position inside the group, -1 is the end")
	orderMoveCmd.Flags().StringVar(&moveBefore, "before", "", "place before this element of the group")
	orderMoveCmd.Flags().StringVar(&moveAfter, "after", "", "place after this element of the group")
	orderMoveCmd.MarkFlagsMutuallyExclusive("position", "before", "after")

	orderCmd.AddCommand(orderShowCmd)
	orderCmd.AddCommand(orderMoveCmd)
	orderCmd.AddCommand(orderGroupCmd)
	rootCmd.AddCommand(orderCmd)
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inspect and rearrange the hierarchical order of a dataset's variables.",
}

func findGroup(cmd *cobra.Command, dataset, group string) (*scrunch.Order, *scrunch.Group, error) {
	ctx := cmd.Context()
	ds, err := globals.Get(ctx).Dataset(ctx, dataset)
	if err != nil {
		return nil, nil, err
	}
	order := ds.Order()
	root, err := order.Root(ctx)
	if err != nil {
		return nil, nil, err
	}
	if group == "" {
		return order, root, nil
	}
	g := root.FindGroup(group)
	if g == nil {
		return nil, nil, fmt.Errorf("no group named '%s'", group)
	}
	return order, g, nil
}

var orderShowCmd = &cobra.Command{
	Use:   "show <dataset> [group]",
	Short: "Print the order, or one of its groups, as nested json.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := ""
		if len(args) == 2 {
			group = args[1]
		}
		_, g, err := findGroup(cmd, args[0], group)
		if err != nil {
			return err
		}
		fmt.Println(g.HierarchyString())
		return nil
	},
}

var orderMoveCmd = &cobra.Command{
	Use:   "move <dataset> <group> <element>...",
	Short: "Move variables or groups into a group.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, g, err := findGroup(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		names := args[2:]
		switch {
		case moveBefore != "":
			err = g.MoveBefore(ctx, moveBefore, names)
		case moveAfter != "":
			err = g.MoveAfter(ctx, moveAfter, names)
		default:
			err = g.Move(ctx, names, movePosition)
		}
		if err != nil {
			return err
		}
		fmt.Println(g)
		return nil
	},
}

var orderGroupCmd = &cobra.Command{
	Use:   "group <dataset> <parent group> <name> [element]...",
	Short: "Create a group, optionally moving elements into it.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, parent, err := findGroup(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		created, err := parent.Create(cmd.Context(), args[2], args[3:])
		if err != nil {
			return err
		}
		fmt.Println(created)
		return nil
	},
}
