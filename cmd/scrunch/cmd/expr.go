package cmd

import (
	"encoding/json"
	"fmt"
	"scrunch/cmd/scrunch/globals"
	"scrunch/cmd/scrunch/utils"
	"scrunch/lib/expressions"

	"github.com/spf13/cobra"
)

func init() {
	exprCmd.AddCommand(exprParseCmd)
	exprCmd.AddCommand(exprProcessCmd)
	exprCmd.AddCommand(exprPrettyCmd)
	exprPrettyCmd.Flags().StringVar(&prettyDataset, "dataset", "", "resolve variable urls against this dataset")
	rootCmd.AddCommand(exprCmd)
}

var exprCmd = &cobra.Command{
	Use:   "expr",
	Short: "Convert between the filter language and crunch expressions.",
}

var exprParseCmd = &cobra.Command{
	Use:   "parse <expression>",
	Short: "Parse an expression, variables stay aliases.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := expressions.Parse(args[0])
		if err != nil {
			return err
		}
		return utils.PrintJSON(e)
	},
}

var exprProcessCmd = &cobra.Command{
	Use:   "process <dataset> <expression>",
	Short: "Parse an expression and resolve its aliases against a dataset.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := globals.Get(cmd.Context()).Dataset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		e, err := ds.ProcessExpr(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		return utils.PrintJSON(e)
	},
}

var prettyDataset string

var exprPrettyCmd = &cobra.Command{
	Use:   "pretty <json>",
	Short: "Render a crunch expression back into the filter language.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var e expressions.Expr
		err := json.Unmarshal([]byte(args[0]), &e)
		if err != nil {
			return fmt.Errorf("decode expression: %w", err)
		}

		var resolver expressions.AliasResolver
		if prettyDataset != "" {
			ds, err := globals.Get(cmd.Context()).Dataset(cmd.Context(), prettyDataset)
			if err != nil {
				return err
			}
			resolver = ds
		}
		pretty, err := expressions.Prettify(cmd.Context(), e, resolver)
		if err != nil {
			return err
		}
		fmt.Println(pretty)
		return nil
	},
}
