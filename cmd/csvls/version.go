package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/config"
	"github.com/fentz26/csvls/internal/platform"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of csvls",
	Args:  cobra.NoArgs,
	Run:   runVersion,
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("csvls version %s\n", version)
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go version: %s\n", runtime.Version())

	cfg, err := config.Load(configPath)
	if err != nil {
		return
	}
	target, err := platform.Current()
	if err != nil {
		fmt.Printf("  Validator: %v\n", err)
		return
	}
	path := filepath.Join(cfg.StorageDir, target.BinaryName(cfg.BinaryName))
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("  Validator: not installed (%s)\n", path)
		return
	}
	fmt.Printf("  Validator: %s\n", path)
}
