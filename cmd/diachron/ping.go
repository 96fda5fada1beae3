package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var pong ipc.PongPayload
		if _, err := c.SendJSON(ipc.TypePing, nil, &pong); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Printf("daemon up %ds, %d events recorded\n", pong.UptimeSecs, pong.EventsCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
