package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Brennan-Chesley-FLP/kent/cmd/list"
	"github.com/Brennan-Chesley-FLP/kent/cmd/run"
	"github.com/Brennan-Chesley-FLP/kent/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version.",
	Long:  "print version.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		version.Printer()
	},
}

func Execute() {
	var rootCmd = &cobra.Command{Use: "kent"}
	rootCmd.AddCommand(run.RunCmd, list.ListCmd, list.SchemaCmd, versionCmd)
	rootCmd.Execute()
}
