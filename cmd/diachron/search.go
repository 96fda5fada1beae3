package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var (
	searchLimit  int
	searchSource string
	searchSince  string
	searchProj   string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic + lexical search over recorded events and conversation exchanges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var results []types.SearchResult
		_, err = c.SendJSON(ipc.TypeSearch, ipc.SearchPayload{
			Query:        args[0],
			Limit:        searchLimit,
			SourceFilter: searchSource,
			Since:        searchSince,
			Project:      searchProj,
		}, &results)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(results)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "filter by source: Event, Exchange, or empty for both")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "RFC3339 timestamp lower bound")
	searchCmd.Flags().StringVar(&searchProj, "project", "", "filter by project")
	rootCmd.AddCommand(searchCmd)
}
