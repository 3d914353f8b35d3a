// Package cmd provides the command-line interface for wprof.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/kusoof/wprof/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wprof",
	Short: "wprof builds causality graphs of page loads.",
	Long: `wprof builds causality graphs of page loads from the signals of a ` +
		`browser engine. It can replay recorded signal logs and inspect the ` +
		`traces it writes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "",
		"Config file. Defaults to wprof.yaml in the working directory.")
	rootCmd.PersistentFlags().String("log-level", "",
		"Log level: debug, info, warn or error.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	if flags.Lookup("out") != nil && flags.Changed("out") {
		cfg.OutputDir, _ = flags.GetString("out")
	}

	if flags.Lookup("format") != nil && flags.Changed("format") {
		cfg.Format, _ = flags.GetString("format")
	}

	if flags.Lookup("strict") != nil && flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}

	if flags.Lookup("monitor") != nil && flags.Changed("monitor") {
		cfg.MonitorPort, _ = flags.GetInt("monitor")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
