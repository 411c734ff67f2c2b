package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kebairia/portalbackup/internal/config"
	"github.com/kebairia/portalbackup/internal/logger"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// LogLevel overrides log.level from the configuration when set.
	LogLevel string

	cfg config.Config
	log logger.Logger = logger.Nop()

	// rootCmd is the base command for portalbackup.
	rootCmd = &cobra.Command{
		Use:   "portalbackup",
		Short: "Backup and recovery for the portal database",
		Long: `portalbackup exports the portal's tables into compressed, optionally
encrypted archives, keeps them locally and in object storage, and restores
them on demand or on a schedule.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// setup loads the configuration and builds the logger before any command.
func setup(*cobra.Command, []string) error {
	cfg = config.Config{}
	if err := cfg.Load(ConfigFile); err != nil {
		return err
	}
	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}
	l, err := logger.Init(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrValidateConfig, err)
	}
	log = l
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	defer logger.Cleanup()

	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return ExitOK
	}
	code := exitCode(err)
	log.Error("Command failed", "error", err, "exit_code", code)
	fmt.Fprintln(os.Stderr, color.RedString("ERROR: %v", err))
	return code
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		StringVar(&LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(migrateCmd)
}
