package cmd

import (
	"log/slog"
	"scrunch/cmd/scrunch/globals"
	"scrunch/lib/scrunch"

	"github.com/spf13/cobra"
)

var downloadOpts scrunch.DownloadOptions

func init() {
	downloadCmd.Flags().StringVar(&downloadOpts.Filter, "filter", "", "only export rows matching this expression")
	downloadCmd.Flags().StringSliceVar(&downloadOpts.Variables, "var", nil, "only export these variables, by alias")
	downloadCmd.Flags().BoolVar(&downloadOpts.Hidden, "hidden", false, "include hidden variables")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download <dataset> <path>",
	Short: "Export a dataset as csv with category ids.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ds, err := globals.Get(ctx).Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		err = ds.Download(ctx, args[1], downloadOpts)
		if err != nil {
			return err
		}
		slog.Info("downloaded dataset", "dataset", ds.Name(), "path", args[1])
		return nil
	},
}
