package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/controlplane"
	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/logging"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/tui"
	"github.com/fentz26/csvls/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and validate CSV files as they change",
	Long: `Validates every CSV file under dir (default: the current directory) and
revalidates files as they are written. Diagnostics are printed as they
change, shown in a terminal UI with --tui, and served over HTTP with
--listen.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchTUI    bool
	watchListen string
)

func init() {
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "Show diagnostics in a terminal UI")
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "Serve the HTTP API on this address (default: config listen)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listen := cfg.Listen
	if cmd.Flags().Changed("listen") {
		listen = watchListen
	}

	// The UI owns the terminal; logs only go to the log file then.
	log := logging.New(logging.Config{Level: cfg.LogLevel, LogDir: cfg.LogDir, Quiet: watchTUI})
	defer log.Close()
	slog.SetDefault(log.Logger)

	diags := diagnostics.New()
	st, err := buildStack(cfg, log.Logger, diags, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !st.linter.Start(ctx) {
		log.Warn("validator unavailable; files will be validated after a reinstall")
	}

	w, err := watch.New(dir, st.linter, watch.Options{IsCSV: cfg.IsCSV, Logger: log.Logger})
	if err != nil {
		return err
	}

	if !watchTUI {
		out := newPrinter(cmd.OutOrStdout())
		unsubscribe := diags.Subscribe(func(uri string, list []models.Diagnostic) {
			// nil marks a cleared entry: a run starting or a file going away.
			if list == nil {
				return
			}
			out.document(displayName(uri), list)
		})
		defer unsubscribe()
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	log.Info("watching", slog.String("dir", w.Root()), slog.Int("files", w.Files()))

	service := controlplane.NewService(st.store, diags, st.linter)

	var server *controlplane.Server
	serverErr := make(chan error, 1)
	if listen != "" {
		server = controlplane.NewServer(service, listen, version, log.Logger)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	if watchTUI {
		updates, unsubscribe := tui.Subscribe(diags)
		defer unsubscribe()
		app := tui.New(tui.NewLocal(service), tui.WithUpdates(updates))
		if err := app.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
	} else {
		select {
		case <-ctx.Done():
			log.Info("received signal, shutting down")
		case err := <-serverErr:
			return fmt.Errorf("control plane: %w", err)
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown error", slog.Any("error", err))
		}
	}
	return nil
}
