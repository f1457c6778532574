package cmd

import (
	"fmt"
	"scrunch/cmd/scrunch/globals"

	"github.com/spf13/cobra"
)

func init() {
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the metadata cache given by --cache.",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print how many datasets are cached.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cache, err := globals.Get(ctx).Cache()
		if err != nil {
			return err
		}
		count, err := cache.Len(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d cached datasets\n", count)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <dataset>",
	Short: "Drop the cached metadata of a dataset.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		value := globals.Get(ctx)
		cache, err := value.Cache()
		if err != nil {
			return err
		}
		ds, err := value.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		return cache.Invalidate(ctx, ds.URL())
	},
}
