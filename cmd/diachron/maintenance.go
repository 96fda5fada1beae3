package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var maintenanceRetentionDays int

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Prune events/exchanges past the retention window and reclaim disk space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var stats types.MaintenanceStats
		_, err = c.SendJSON(ipc.TypeMaintenance, ipc.MaintenancePayload{
			RetentionDays: maintenanceRetentionDays,
		}, &stats)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(stats)
		return nil
	},
}

func init() {
	maintenanceCmd.Flags().IntVar(&maintenanceRetentionDays, "retention-days", 90, "prune records older than this many days")
	rootCmd.AddCommand(maintenanceCmd)
}
