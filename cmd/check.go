package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one supplier price reconciliation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Worker.CheckAllPrices(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("checked: %d\nupdated: %d\nerrors:  %d\n",
			summary.Checked, summary.Updated, summary.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
