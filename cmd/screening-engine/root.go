package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/terra-clan/screening-engine/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "screening-engine",
	Short:         "Conversational psychological screening service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// Execute runs the root command and logs the failure, if any
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("bank", "", "Question bank directory (overrides BANK_DIR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogging installs the JSON handler at the configured level
func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// resolveBankDir returns the --bank flag when set, else the configured dir
func resolveBankDir(cmd *cobra.Command, cfg config.BankConfig) string {
	if dir, _ := cmd.Flags().GetString("bank"); dir != "" {
		return dir
	}
	return cfg.Dir
}
