package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report daemon health: version, uptime, database size, feature flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var info types.DiagnosticInfo
		if _, err := c.SendJSON(ipc.TypeDoctorInfo, nil, &info); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(info)
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Report per-request-type IPC latency and connection counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var snapshot ipc.MetricsSnapshot
		if _, err := c.SendJSON(ipc.TypeMetrics, nil, &snapshot); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(snapshot)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(metricsCmd)
}
