package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultAPIAddr is where `watch --listen` and the API clients meet when
// nothing is configured.
const defaultAPIAddr = "127.0.0.1:7466"

var rootCmd = &cobra.Command{
	Use:   "csvls",
	Short: "csvls - CSV language server",
	Long: `csvls validates CSV documents with csvlinter and reports the problems as
diagnostics. It runs as a language server over stdio, as a directory
watcher with an optional HTTP API and terminal UI, or as a one-shot
command-line validator. The csvlinter executable is downloaded from
GitHub releases on first use.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath   string
	logLevel     string
	storageDir   string
	debounceFlag time.Duration
	apiAddr      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "Directory the validator is installed into")
	rootCmd.PersistentFlags().DurationVar(&debounceFlag, "debounce", 0, "Quiet period after an edit before validating")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API address of a running watcher (default: config listen or "+defaultAPIAddr+")")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(reinstallCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitError ends the process with code without printing anything more.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("storage-dir") {
		cfg.StorageDir = storageDir
	}
	if flags.Changed("debounce") {
		cfg.Debounce = debounceFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// resolveAPIAddr picks the watcher API address: --api, then the configured
// listen address, then the default.
func resolveAPIAddr(cfg *config.Config) string {
	if apiAddr != "" {
		return apiAddr
	}
	if cfg != nil && cfg.Listen != "" {
		return cfg.Listen
	}
	return defaultAPIAddr
}
