package cmd

import (
	"fmt"
	"scrunch/cmd/scrunch/globals"

	"github.com/spf13/cobra"
)

func init() {
	savepointsCmd.AddCommand(savepointsListCmd)
	savepointsCmd.AddCommand(savepointsCreateCmd)
	savepointsCmd.AddCommand(savepointsLoadCmd)
	rootCmd.AddCommand(savepointsCmd)
}

var savepointsCmd = &cobra.Command{
	Use:   "savepoints",
	Short: "Save and restore versions of a dataset.",
}

var savepointsListCmd = &cobra.Command{
	Use:   "ls <dataset>",
	Short: "List savepoint descriptions.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		descriptions, err := ds.SavepointDescriptions(ctx)
		if err != nil {
			return err
		}
		for _, d := range descriptions {
			fmt.Println(d)
		}
		return nil
	},
}

var savepointsCreateCmd = &cobra.Command{
	Use:   "create <dataset> <description>",
	Short: "Save the current state of a dataset.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		return ds.CreateSavepoint(ctx, args[1])
	},
}

var savepointsLoadCmd = &cobra.Command{
	Use:   "load <dataset> [description]",
	Short: "Revert a dataset to a savepoint, the initial import by default.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		description := ""
		if len(args) == 2 {
			description = args[1]
		}
		return ds.LoadSavepoint(ctx, description)
	},
}
