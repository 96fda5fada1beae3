package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/archive"
	"github.com/diachron/diachron/internal/ipc"
)

var indexCmd = &cobra.Command{
	Use:   "index-conversations",
	Short: "Run an incremental archive indexing pass immediately",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var stats archive.Stats
		if _, err := c.SendJSON(ipc.TypeIndexConversations, nil, &stats); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
