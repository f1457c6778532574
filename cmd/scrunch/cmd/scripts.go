package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"scrunch/cmd/scrunch/globals"
	"scrunch/cmd/scrunch/utils"
	"scrunch/lib/scrunch"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	scriptsCmd.AddCommand(scriptsRunCmd)
	scriptsCmd.AddCommand(scriptsListCmd)
	scriptsCmd.AddCommand(scriptsRevertCmd)
	scriptsCmd.AddCommand(scriptsCollapseCmd)
	rootCmd.AddCommand(scriptsCmd)
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Run and revert automation scripts on a dataset.",
}

var scriptsRunCmd = &cobra.Command{
	Use:   "run <dataset> <file>",
	Short: "Execute the script in file, '-' reads stdin.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var script []byte
		var err error
		if args[1] == "-" {
			script, err = io.ReadAll(os.Stdin)
		} else {
			script, err = os.ReadFile(args[1])
		}
		if err != nil {
			return err
		}
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}

		err = ds.Scripts().Execute(ctx, string(script))
		var serr *scrunch.ScriptExecutionError
		if errors.As(err, &serr) && len(serr.Resolutions) > 0 {
			var resolutions any
			if json.Unmarshal(serr.Resolutions, &resolutions) == nil {
				_ = utils.PrintJSON(resolutions)
			}
		}
		return err
	},
}

var scriptsListCmd = &cobra.Command{
	Use:   "ls <dataset>",
	Short: "List the scripts run on a dataset, oldest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		scripts, err := ds.Scripts().All(ctx)
		if err != nil {
			return err
		}
		t := utils.NewTable()
		t.AppendHeader(table.Row{"#", "id", "created", "body"})
		for i, s := range scripts {
			t.AppendRow(table.Row{i + 1, s.ID(), s.CreationTime(), s.Body()})
		}
		t.Render()
		return nil
	},
}

var scriptsRevertCmd = &cobra.Command{
	Use:   "revert <dataset> <number or id>",
	Short: "Revert the dataset to its state before a script ran.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		if n, err := strconv.Atoi(args[1]); err == nil {
			return ds.Scripts().RevertToNumber(ctx, n)
		}
		return ds.Scripts().RevertTo(ctx, args[1])
	},
}

var scriptsCollapseCmd = &cobra.Command{
	Use:   "collapse <dataset>",
	Short: "Merge every script of the dataset into one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		return ds.Scripts().Collapse(ctx)
	},
}
