package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/config"
	"github.com/fentz26/csvls/internal/tui"
	"github.com/fentz26/csvls/internal/uri"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics [file]",
	Short: "Show diagnostics from a running watcher",
	Long:  `Queries the HTTP API of a running "csvls watch --listen" and prints the current diagnostics, for every document or for one file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !isTerminal(os.Stdout) {
		color.NoColor = true
	}

	client := tui.NewClient(resolveAPIAddr(cfg))
	out := newPrinter(cmd.OutOrStdout())

	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		doc, err := client.Document(uri.FromPath(abs))
		if errors.Is(err, tui.ErrNotFound) {
			return fmt.Errorf("%s is not tracked by the watcher", args[0])
		}
		if err != nil {
			return fmt.Errorf("watcher not reachable: %w", err)
		}
		out.document(args[0], doc.Diagnostics)
		if len(doc.Diagnostics) > 0 {
			return exitError{code: 1}
		}
		return nil
	}

	docs, err := client.Diagnostics()
	if err != nil {
		return fmt.Errorf("watcher not reachable: %w", err)
	}
	problems := 0
	for _, d := range docs {
		out.document(displayName(d.URI), d.Diagnostics)
		problems += len(d.Diagnostics)
	}
	out.summary(len(docs), problems, 0)
	if problems > 0 {
		return exitError{code: 1}
	}
	return nil
}
