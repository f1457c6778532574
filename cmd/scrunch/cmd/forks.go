package cmd

import (
	"fmt"
	"os"
	"scrunch/cmd/scrunch/globals"
	"scrunch/lib/scrunch"

	"github.com/spf13/cobra"
)

var forkOpts scrunch.ForkOptions

func init() {
	forksCreateCmd.Flags().StringVar(&forkOpts.Name, "name", "", "name of the fork")
	forksCreateCmd.Flags().StringVar(&forkOpts.Description, "description", "", "description of the fork")
	forksCreateCmd.Flags().BoolVar(&forkOpts.IsPublished, "published", false, "publish the fork")
	forksCreateCmd.Flags().BoolVar(&forkOpts.PreserveOwner, "preserve-owner", false, "give the fork the owner of the dataset")

	forksCmd.AddCommand(forksListCmd)
	forksCmd.AddCommand(forksCreateCmd)
	rootCmd.AddCommand(forksCmd)
}

var forksCmd = &cobra.Command{
	Use:   "forks",
	Short: "List and create forks of a dataset.",
}

var forksListCmd = &cobra.Command{
	Use:   "ls <dataset>",
	Short: "Summarize the forks of a dataset.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		t, err := ds.ForksTable(ctx)
		if err != nil {
			return err
		}
		t.SetOutputMirror(os.Stdout)
		t.Render()
		return nil
	},
}

var forksCreateCmd = &cobra.Command{
	Use:   "create <dataset>",
	Short: "Fork a dataset.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		fork, err := ds.Fork(ctx, forkOpts)
		if err != nil {
			return err
		}
		fmt.Println(fork.URL())
		return nil
	},
}
