// Package cmd implements the fat CLI commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	workspace string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "fat",
	Short: "Firmware analysis trigger",
	Long: "fat runs the firmware analysis toolchain (disassembler, graph renderer, report generator)\n" +
		"against a workspace and displays the resulting control flow graph.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "fat.yml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: config, then current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "report every stage boundary")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
