package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"scrunch/cmd/scrunch/globals"
	"scrunch/lib/restyutil"
	"scrunch/lib/scrunch"
	"scrunch/lib/telemetry"
	"scrunch/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	dumpHttp   string
	cachePath  string
	project    string
	editor     bool
)

var rootCmd = &cobra.Command{
	Use:           "scrunch",
	Short:         "scrunch is a CLI for the datasets of a Crunch API.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		config, err := scrunch.LoadConfig(configPath)
		if err != nil {
			return err
		}
		value := globals.Get(cmd.Context())
		value.Config = config
		value.CachePath = cachePath
		value.Project = project
		value.Editor = editor
		if dumpHttp != "" {
			output, err := restyutil.NewFilesystemOutput(dumpHttp)
			if err != nil {
				return err
			}
			value.Output = output
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file, defaults to the closest "+scrunch.ConfigFile)
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&dumpHttp, "dump-http", "", "write every http exchange into this directory")
	flags.StringVar(&cachePath, "cache", "", "sqlite file or libsql url caching dataset metadata")
	flags.StringVar(&project, "project", "", "look datasets up in this project")
	flags.BoolVar(&editor, "editor", false, "become the editor of the dataset")
}

func Execute() {
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "scrunch")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}

	err = globals.Run(ctx, &globals.Value{}, rootCmd.ExecuteContext)

	shutdownErr := tel.Shutdown(context.Background())
	if shutdownErr != nil {
		slog.Warn("failed to shutdown telemetry", "err", shutdownErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
