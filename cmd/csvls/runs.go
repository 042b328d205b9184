package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/csvls/internal/store"
	"github.com/fentz26/csvls/internal/uri"
)

var runsCmd = &cobra.Command{
	Use:   "runs [file]",
	Short: "Show recent validation runs",
	Long:  `Lists validation runs from the history database, newest first, optionally for a single file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

var runsLimit int

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to show")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runsLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	var docURI string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		docURI = uri.FromPath(abs)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), docURI, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tTRANSPORT\tEXIT\tDIAGS\tDURATION\tFILE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome,
			r.Transport,
			r.ExitCode,
			r.Diagnostics,
			r.Duration().Round(time.Millisecond),
			displayName(r.URI))
		if r.Error != "" {
			fmt.Fprintf(w, "\t\t\t\t\t\t  %s\n", r.Error)
		}
	}
	return w.Flush()
}
