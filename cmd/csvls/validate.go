package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/logging"
	"github.com/fentz26/csvls/internal/session"
	"github.com/fentz26/csvls/internal/uri"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file...>",
	Short: "Validate CSV files and print their diagnostics",
	Long: `Validates each file once and prints its diagnostics. Pass - to read a
document from stdin; --stdin-filename names it in the output and
to the validator. Exits 1 when any problem is found or a file cannot be
validated.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

var (
	stdinFilename string
	noColor       bool
)

func init() {
	validateCmd.Flags().StringVar(&stdinFilename, "stdin-filename", "stdin.csv", "Name for the document read from stdin")
	validateCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noColor || !isTerminal(os.Stdout) {
		color.NoColor = true
	}

	level := cfg.LogLevel
	if !cmd.Flags().Changed("log-level") {
		level = "warn"
	}
	log := logging.New(logging.Config{Level: level, LogDir: cfg.LogDir})
	defer log.Close()
	slog.SetDefault(log.Logger)

	diags := diagnostics.New()
	st, err := buildStack(cfg, log.Logger, diags, consoleNotifier{out: os.Stderr})
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if !st.linter.Start(ctx) {
		return errors.New("csvlinter is not available; run `csvls install` for details")
	}

	out := newPrinter(cmd.OutOrStdout())
	var problems, failed int
	for _, arg := range args {
		doc, name, err := documentFor(arg, cmd.InOrStdin())
		if err != nil {
			out.failure(arg, err)
			failed++
			continue
		}

		if _, err := st.linter.Lint(ctx, doc); err != nil {
			out.failure(name, err)
			failed++
			continue
		}
		list, _ := diags.Get(doc.URI)
		out.document(name, list)
		problems += len(list)
	}

	out.summary(len(args), problems, failed)
	if problems > 0 || failed > 0 {
		return exitError{code: 1}
	}
	return nil
}

// documentFor builds the document for a command-line argument. "-" reads
// the whole of stdin; anything else is validated from disk.
func documentFor(arg string, stdin io.Reader) (session.Document, string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return session.Document{}, "", fmt.Errorf("reading stdin: %w", err)
		}
		abs, err := filepath.Abs(stdinFilename)
		if err != nil {
			return session.Document{}, "", err
		}
		text := string(data)
		return session.Document{URI: uri.FromPath(abs), LanguageID: "csv", Text: &text}, stdinFilename, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return session.Document{}, "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return session.Document{}, "", err
	}
	if info.IsDir() {
		return session.Document{}, "", fmt.Errorf("%s is a directory; use `csvls watch`", arg)
	}
	// Explicitly named files are validated whatever their extension.
	return session.Document{URI: uri.FromPath(abs), LanguageID: "csv"}, arg, nil
}
