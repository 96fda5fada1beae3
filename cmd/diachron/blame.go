package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var (
	blameLine    int
	blameContent string
	blameContext string
	blameMode    string
)

var blameCmd = &cobra.Command{
	Use:   "blame <file>",
	Short: "Find the event responsible for a line of code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.SendJSON(ipc.TypeBlameByFingerprint, ipc.BlamePayload{
			FilePath:   args[0],
			LineNumber: blameLine,
			Content:    blameContent,
			Context:    blameContext,
			Mode:       blameMode,
		}, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		switch resp.Type {
		case ipc.TypeBlameResult:
			var match types.BlameMatch
			if err := json.Unmarshal(resp.Payload, &match); err != nil {
				return fmt.Errorf("diachron: decode blame result: %w", err)
			}
			printJSON(match)
		case ipc.TypeBlameNotFound:
			var notFound types.BlameNotFound
			if err := json.Unmarshal(resp.Payload, &notFound); err != nil {
				return fmt.Errorf("diachron: decode blame not-found: %w", err)
			}
			fmt.Println(notFound.Reason)
		default:
			return fmt.Errorf("diachron: unexpected response type %q", resp.Type)
		}
		return nil
	},
}

func init() {
	blameCmd.Flags().IntVar(&blameLine, "line", 0, "line number")
	blameCmd.Flags().StringVar(&blameContent, "content", "", "line content")
	blameCmd.Flags().StringVar(&blameContext, "context", "", "surrounding context")
	blameCmd.Flags().StringVar(&blameMode, "mode", "best-effort", "match mode: strict, best-effort, inferred")
	rootCmd.AddCommand(blameCmd)
}
