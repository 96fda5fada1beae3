package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain has no breaks",
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

		if !info.ChainValid {
			fmt.Printf("chain verification FAILED: %d break(s) detected\n", info.ChainBreakCount)
			os.Exit(1)
		}

		fmt.Printf("chain verified: %d events, no breaks\n", info.EventCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
