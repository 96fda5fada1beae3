package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var summarizeLimit int

var summarizeCmd = &cobra.Command{
	Use:   "summarize-exchanges",
	Short: "Generate LLM summaries for conversation exchanges that lack one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var stats types.SummarizeStats
		_, err = c.SendJSON(ipc.TypeSummarizeExchanges, ipc.SummarizePayload{Limit: summarizeLimit}, &stats)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(stats)
		return nil
	},
}

func init() {
	summarizeCmd.Flags().IntVar(&summarizeLimit, "limit", 20, "maximum exchanges to summarize")
	rootCmd.AddCommand(summarizeCmd)
}
