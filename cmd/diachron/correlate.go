package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/prcorrelate"
	"github.com/diachron/diachron/internal/types"
)

var (
	correlateCommits  string
	correlateBranch   string
	correlateStart    string
	correlateEnd      string
	correlateIntent   string
	correlateMarkdown bool
)

var correlateCmd = &cobra.Command{
	Use:   "correlate <pr-id>",
	Short: "Assemble an evidence pack attributing a PR's commits to recorded events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var commits []string
		if correlateCommits != "" {
			commits = strings.Split(correlateCommits, ",")
		}

		var pack types.EvidencePack
		_, err = c.SendJSON(ipc.TypeCorrelateEvidence, ipc.CorrelatePayload{
			PRID:      args[0],
			Commits:   commits,
			Branch:    correlateBranch,
			StartTime: correlateStart,
			EndTime:   correlateEnd,
			Intent:    correlateIntent,
		}, &pack)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		if correlateMarkdown {
			fmt.Println(prcorrelate.RenderMarkdown(pack))
			return nil
		}

		printJSON(pack)
		return nil
	},
}

func init() {
	correlateCmd.Flags().StringVar(&correlateCommits, "commits", "", "comma-separated commit SHAs")
	correlateCmd.Flags().StringVar(&correlateBranch, "branch", "", "branch name")
	correlateCmd.Flags().StringVar(&correlateStart, "start", "", "RFC3339 window start")
	correlateCmd.Flags().StringVar(&correlateEnd, "end", "", "RFC3339 window end")
	correlateCmd.Flags().StringVar(&correlateIntent, "intent", "", "free-form description of intent")
	correlateCmd.Flags().BoolVar(&correlateMarkdown, "markdown", false, "render the evidence pack as a PR-comment narrative instead of JSON")
	rootCmd.AddCommand(correlateCmd)
}
