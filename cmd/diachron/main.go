// Command diachron is the thin CLI: it dials the resident daemon's Unix
// socket, sends one tagged IPC request per subcommand, and prints a
// human-readable rendering of the response (spec.md §6).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/ipc"
)

var homeFlag string

var rootCmd = &cobra.Command{
	Use:   "diachron",
	Short: "Query the Diachron provenance daemon",
	Long: `diachron is a thin client over the resident diachrond process. It records
no state of its own: every subcommand dials the daemon's Unix socket, sends
one request, and prints the result.`,
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", filepath.Join(home, ".diachron"), "Diachron state directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func socketPath() string {
	return filepath.Join(homeFlag, "diachron.sock")
}

// dial connects to the daemon, printing a CLI-friendly hint on failure
// (spec.md §7's "Is the daemon running?" mapping).
func dial() (*ipc.Client, error) {
	c, err := ipc.Dial(socketPath())
	if err != nil {
		return nil, fmt.Errorf("%w\nIs the daemon running? Try: diachrond --home %s", err, homeFlag)
	}
	return c, nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "diachron: encode output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
