// Package cli implements the aiwf command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "aiwf",
	Short: "AI workflow engine for plan/generate/review/revise pipelines",
	Long: `aiwf drives AI content generation through a gated workflow:
plan, generate, review, and revise, with approval gates between steps.

Every prompt and response is a file in the session directory, so any step
can be inspected, edited by hand, and resumed.

Quick start:
  aiwf new --profile <name> --context key=value    Create a session
  aiwf init <session-id>                           Start the workflow
  aiwf status <session-id>                         Show where it stands
  aiwf approve <session-id>                        Approve the pending step`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .aiwf/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newApproveCmd())
	rootCmd.AddCommand(newRejectCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newProfilesCmd())
	rootCmd.AddCommand(newProvidersCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads the config file and AIWF_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".aiwf")
		viper.AddConfigPath("$HOME/.aiwf")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("AIWF")
	viper.AutomaticEnv()

	// Explicit binds overlaid onto the loaded config in newApp. STANDARDS_DIR
	// is historically unprefixed.
	_ = viper.BindEnv("sessions_root", "AIWF_SESSIONS_ROOT")
	_ = viper.BindEnv("profiles_dir", "AIWF_PROFILES_DIR")
	_ = viper.BindEnv("standards_dir", "STANDARDS_DIR", "AIWF_STANDARDS_DIR")
	_ = viper.BindEnv("journal_path", "AIWF_JOURNAL")

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// initLogging routes slog to stderr at a level matching the verbosity flags.
func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
