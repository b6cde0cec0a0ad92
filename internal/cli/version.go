package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "atr %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
