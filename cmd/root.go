package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Persistent flags shared by every subcommand
	logLevel     string // Log verbosity level
	settingsPath string // Settings YAML; empty = ./settings.yaml if present, else built-in defaults
	rootDir      string // Overrides Settings.Root
	ledgerPath   string // SQLite run history; empty disables the ledger
	metricsFile  string // Prometheus textfile written after a run; empty disables metrics
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "xmd",
	Short: "Staged molecular dynamics trial orchestration",
	Long: `xmd prepares per-trial directory trees, runs chained GROMACS stages for one
replicate at a time, post-processes the final trajectory and keeps snapshots,
a run ledger and metrics of what ran.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// init sets up persistent flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Settings YAML file")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Base directory of the trial tree (overrides settings root)")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "SQLite run ledger path (empty disables)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Prometheus textfile written after each run (empty disables)")

	rootCmd.AddCommand(runCmd, initCmd, snapshotCmd, trajCmd, syncCmd, historyCmd)
}
