package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/install"
	"github.com/fentz26/csvls/internal/logging"
	"github.com/fentz26/csvls/internal/notify"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download csvlinter if it is not installed",
	Long:  `Makes sure the csvlinter executable is present in the storage directory, downloading the latest release for this platform when it is missing.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd, false)
	},
}

var reinstallCmd = &cobra.Command{
	Use:   "reinstall",
	Short: "Download csvlinter again, replacing the installed copy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd, true)
	},
}

func runInstall(cmd *cobra.Command, force bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if !cmd.Flags().Changed("log-level") {
		level = "warn"
	}
	log := logging.New(logging.Config{Level: level, LogDir: cfg.LogDir})
	defer log.Close()
	slog.SetDefault(log.Logger)

	// Collect messages while the spinner owns the line.
	messages := &notify.Recorder{}
	st, err := buildStack(cfg, log.Logger, diagnostics.New(), messages)
	if err != nil {
		return err
	}
	defer st.Close()

	path := st.prov.Path()
	if path == "" {
		return fmt.Errorf("no %s release for this platform", cfg.BinaryName)
	}
	fmt.Printf("┌  %s → %s\n", cfg.Repo, path)

	verb := " Installing " + cfg.BinaryName + " . . ."
	if force {
		verb = " Reinstalling " + cfg.BinaryName + " . . ."
	}
	spin := newSpinner(os.Stdout, verb, isTerminal(os.Stdout))
	spin.Start()

	tool := provisionTool(cmd.Context(), st, force)
	if tool == nil {
		spin.StopWithSymbol("✗")
		for _, msg := range messages.Errors() {
			fmt.Printf("│  %s\n", msg)
		}
		return errors.New("install failed")
	}
	spin.Stop()

	for _, m := range messages.Messages() {
		fmt.Printf("│  %s\n", m.Text)
	}
	if rec, err := st.store.LastInstall(cmd.Context()); err == nil && rec != nil {
		fmt.Printf("│  release %s (%s)\n", rec.Tag, rec.AssetName)
	}
	fmt.Printf("└  %s\n", tool.Path)
	return nil
}

func provisionTool(ctx context.Context, st *stack, force bool) *install.Tool {
	if force {
		return st.prov.ForceReinstall(ctx)
	}
	return st.prov.EnsureInstalled(ctx)
}
