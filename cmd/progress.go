package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricesync/internal/reconcile"
	"github.com/sells-group/pricesync/internal/store"
)

var progressCmd = &cobra.Command{
	Use:   "progress [type]",
	Short: "Print the latest sync progress record",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		syncType := reconcile.SyncTypePriceCheck
		if len(args) == 1 {
			syncType = args[0]
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Tracker.Get(cmd.Context(), syncType)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				fmt.Printf("no progress recorded for %q\n", syncType)
				return nil
			}
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
}
