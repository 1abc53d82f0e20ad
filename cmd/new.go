package cmd

import (
	"github.com/BioHazard786/devicehub/internal/rendezvous"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:     "new",
	Aliases: []string{"n", "host"},
	Short:   "Open a new room and host it",
	Long: `Generate a fresh room code and open it. The first device in a room becomes
its host; share the printed code or link with the devices that should join.

Examples:
  devicehub new
  devicehub new --label studio --metrics :9100
  devicehub new --broker ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoom(cmd.Context(), rendezvous.Generate().String())
	},
}

func init() {
	newCmd.Flags().AddFlagSet(networkFlags())
	rootCmd.AddCommand(newCmd)
}
