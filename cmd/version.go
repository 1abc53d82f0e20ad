package cmd

import (
	"fmt"

	"github.com/BioHazard786/devicehub/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("devicehub", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
