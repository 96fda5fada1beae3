package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var (
	timelineSince      string
	timelineFileFilter string
	timelineLimit      int
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "List recorded events in chronological order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var events []*types.Event
		_, err = c.SendJSON(ipc.TypeTimeline, ipc.TimelinePayload{
			Since:      timelineSince,
			FileFilter: timelineFileFilter,
			Limit:      timelineLimit,
		}, &events)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(events)
		return nil
	},
}

func init() {
	timelineCmd.Flags().StringVar(&timelineSince, "since", "", "RFC3339 timestamp lower bound")
	timelineCmd.Flags().StringVar(&timelineFileFilter, "file", "", "filter by file path")
	timelineCmd.Flags().IntVar(&timelineLimit, "limit", 50, "maximum events")
	rootCmd.AddCommand(timelineCmd)
}
