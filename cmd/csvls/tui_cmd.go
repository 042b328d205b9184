package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/config"
	"github.com/fentz26/csvls/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui [dir]",
	Short: "Open the diagnostics viewer for a running watcher",
	Long: `Connects the terminal UI to a watcher's HTTP API. When no watcher answers,
one is started in the background for dir (default: the current
directory).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	addr := resolveAPIAddr(cfg)
	client := tui.NewClient(addr)

	if !isWatcherRunning(client) {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		fmt.Printf("⚡ No watcher at %s. Starting one for %s...\n", addr, dir)
		if err := startWatcher(dir, addr, client); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	app := tui.New(client)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isWatcherRunning(client *tui.Client) bool {
	_, err := client.Health()
	return err == nil
}

func startWatcher(dir, addr string, client *tui.Client) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "watch", abs, "--listen", addr, "--config", configPath)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	// The child is never waited on.
	cmd.Process.Release()

	// Wait for it to become ready
	fmt.Print("   Waiting for watcher...")
	for i := 0; i < 40; i++ { // Wait up to 10 seconds
		if isWatcherRunning(client) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("watcher started but API not reachable at %s", addr)
}
