package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"fatgo/host"
)

var noHistory bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the firmware analysis pipeline once",
	Long: "Disassembles firmware/latest_firmware.bin, renders firmware/cfg.dot to firmware/cfg.png\n" +
		"and writes firmware/report.md, stopping at the first failing stage.",
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.OutOrStdout(), !noHistory)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.commands.Dispatch(cmd.Context(), host.AnalyzeCommand)
	if err != nil {
		// the terminal notifier already told the user; keep cobra quiet
		cmd.SilenceErrors = true
		return errors.New("analysis failed")
	}
	return nil
}
