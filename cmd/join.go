package cmd

import (
	"github.com/BioHazard786/devicehub/internal/rendezvous"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <code or link>",
	Aliases: []string{"j"},
	Short:   "Join a room by code or link",
	Long: `Join the room with the given code. If nobody hosts the room yet this device
becomes the host, otherwise it joins the host as a guest.

Examples:
  devicehub join ABC-DEF
  devicehub join abcdef
  devicehub join https://devicehub.qzz.io/?room=ABC-DEF
  devicehub join --plain --label phone ABC-DEF`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := rendezvous.ParseInput(args[0])
		if err != nil {
			return err
		}
		return runRoom(cmd.Context(), string(code))
	},
}

func init() {
	joinCmd.Flags().AddFlagSet(networkFlags())
	rootCmd.AddCommand(joinCmd)
}
