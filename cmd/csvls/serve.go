package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/logging"
	"github.com/fentz26/csvls/internal/lsp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server over stdio",
	Long: `Runs csvls as a Language Server Protocol server on stdin/stdout.
Logs go to stderr and, when log_dir is configured, to a daily JSON file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, LogDir: cfg.LogDir})
	defer log.Close()
	slog.SetDefault(log.Logger)

	diags := diagnostics.New()

	var st *stack
	server := lsp.NewServer(os.Stdin, os.Stdout, diags, lsp.ServerOptions{
		Version: version,
		Logger:  log.Logger,
		OnInitialized: func(ctx context.Context) {
			st.linter.Start(ctx)
		},
	})

	// The server doubles as the notifier so install progress and
	// validator failures reach the editor.
	st, err = buildStack(cfg, log.Logger, diags, server)
	if err != nil {
		return err
	}
	defer st.Close()
	server.SetLinter(st.linter)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run blocks reading stdin; closing it unblocks the read on a signal.
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()

	log.Info("csvls language server starting", slog.String("version", version))
	err = server.Run(ctx)
	switch {
	case err == nil, errors.Is(err, lsp.ErrExit):
		return nil
	case errors.Is(err, lsp.ErrExitWithoutShutdown):
		return exitError{code: 1}
	case ctx.Err() != nil:
		log.Info("interrupted")
		return nil
	default:
		return err
	}
}
