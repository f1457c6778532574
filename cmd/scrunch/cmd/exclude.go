package cmd

import (
	"fmt"
	"log/slog"
	"scrunch/cmd/scrunch/globals"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(excludeCmd)
}

var excludeCmd = &cobra.Command{
	Use:   "exclude <dataset> [expression]",
	Short: "Show or set the exclusion filter of a dataset, an empty expression clears it.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}

		if len(args) == 2 {
			err = ds.Exclude(ctx, args[1])
			if err != nil {
				return err
			}
			slog.Info("updated exclusion", "dataset", ds.Name(), "expression", args[1])
			return nil
		}

		current, err := ds.Exclusion(ctx)
		if err != nil {
			return err
		}
		if !current.IsFunction() {
			fmt.Println("no exclusion")
			return nil
		}
		pretty, err := ds.Prettify(ctx, current)
		if err != nil {
			return err
		}
		fmt.Println(pretty)
		return nil
	},
}
