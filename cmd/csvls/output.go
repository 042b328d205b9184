package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/uri"
)

var (
	pathColor    = color.New(color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	okColor      = color.New(color.FgGreen)
	mutedColor   = color.New(color.FgHiBlack)
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printer renders diagnostics for humans.
type printer struct {
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// displayName prefers a filesystem path over the URI.
func displayName(docURI string) string {
	if p := uri.ToPath(docURI); p != "" {
		return p
	}
	return docURI
}

// document prints one document's diagnostics, compiler style.
func (p *printer) document(name string, diags []models.Diagnostic) {
	if len(diags) == 0 {
		fmt.Fprintf(p.out, "%s %s\n", okColor.Sprint("✓"), pathColor.Sprint(name))
		return
	}
	for _, d := range diags {
		sev := errorColor.Sprint(d.Severity.String())
		if d.Severity == models.SeverityWarning {
			sev = warningColor.Sprint(d.Severity.String())
		}
		// Lines are stored 0-based.
		fmt.Fprintf(p.out, "%s:%d: %s: %s\n", pathColor.Sprint(name), d.Line+1, sev, d.Message)
	}
}

// failure prints a run that produced no diagnostics.
func (p *printer) failure(name string, err error) {
	fmt.Fprintf(p.out, "%s %s: %v\n", errorColor.Sprint("✗"), pathColor.Sprint(name), err)
}

// summary prints the closing tally.
func (p *printer) summary(files, problems, failed int) {
	switch {
	case failed > 0:
		fmt.Fprintln(p.out, errorColor.Sprintf("%d problems in %d files, %d files could not be validated", problems, files, failed))
	case problems > 0:
		fmt.Fprintln(p.out, errorColor.Sprintf("%d problems in %d files", problems, files))
	default:
		fmt.Fprintln(p.out, okColor.Sprintf("%d files valid", files))
	}
}

// consoleNotifier prints user-facing messages to stderr.
type consoleNotifier struct {
	out io.Writer
}

func (n consoleNotifier) Info(msg string) {
	fmt.Fprintf(n.out, "%s %s\n", mutedColor.Sprint("│"), msg)
}

func (n consoleNotifier) Error(msg string) {
	fmt.Fprintf(n.out, "%s %s\n", errorColor.Sprint("✗"), msg)
}
