// Package lint runs the csvlinter validator and turns its output into
// diagnostics.
package lint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fentz26/csvls/internal/connectors"
	"github.com/fentz26/csvls/internal/models"
)

// tracerName scopes this package's spans.
const tracerName = "csvls.lint"

// DefaultTimeout bounds a single validator run.
const DefaultTimeout = 30 * time.Second

// Request describes one validation. A non-nil Text is streamed on stdin so
// the validator sees unsaved edits; otherwise the file at Path is read.
type Request struct {
	URI  string
	Path string
	Text *string
}

// Transport reports how the document reaches the validator.
func (r Request) Transport() models.Transport {
	if r.Text != nil {
		return models.TransportStdin
	}
	return models.TransportFile
}

// Args returns the validator command line for r.
func (r Request) Args() []string {
	args := []string{"validate", "--format", "json"}
	if r.Text != nil {
		return append(args, "--filename", r.Path, "-")
	}
	return append(args, r.Path)
}

// Outcome is the raw result of one validator process.
type Outcome struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Invoker spawns the validator through a connector.
type Invoker struct {
	conn    connectors.Connector
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout bounds each run. Zero or negative keeps the default.
func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInvoker creates an invoker that runs binary via conn.
func NewInvoker(conn connectors.Connector, binary string, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		conn:    conn,
		binary:  binary,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Binary returns the validator path.
func (i *Invoker) Binary() string {
	return i.binary
}

// Run executes the validator for req. Exit codes are not interpreted here;
// see Classify. An error means the process never produced an exit code.
func (i *Invoker) Run(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lint.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.uri", req.URI),
		attribute.String("transport", string(req.Transport())),
	)

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	var stdin io.Reader
	if req.Text != nil {
		stdin = strings.NewReader(*req.Text)
	}

	res, err := i.conn.Execute(ctx, i.binary, req.Args(), stdin)
	// A killed process may still report an exit status; its output is not
	// a verdict either way.
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		err = fmt.Errorf("timed out after %s", i.timeout)
	case ctxErr != nil:
		err = ctxErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invocation failed")
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvocationFailure, err)
	}

	out := Outcome{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}
	span.SetAttributes(attribute.Int("exit_code", out.ExitCode))
	i.logger.Debug("validator finished",
		slog.String("uri", req.URI),
		slog.Int("exit_code", out.ExitCode),
		slog.Duration("duration", out.Duration))
	return out, nil
}

// Classify interprets an exit code. Codes 0 and 1 carry a payload, taken
// from stdout or, for older validators, stderr. Anything else is an
// invocation failure.
func Classify(o Outcome) (string, error) {
	if o.ExitCode != 0 && o.ExitCode != 1 {
		msg := strings.TrimSpace(o.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(o.Stdout)
		}
		if msg == "" {
			return "", fmt.Errorf("%w: exit code %d", ErrInvocationFailure, o.ExitCode)
		}
		return "", fmt.Errorf("%w: exit code %d: %s", ErrInvocationFailure, o.ExitCode, msg)
	}
	if strings.TrimSpace(o.Stdout) != "" {
		return o.Stdout, nil
	}
	return o.Stderr, nil
}

// Evaluate classifies o and translates its payload. A clean exit with no
// output is a valid document.
func Evaluate(o Outcome) ([]models.Diagnostic, error) {
	payload, err := Classify(o)
	if err != nil {
		return nil, err
	}
	if o.ExitCode == 0 && strings.TrimSpace(payload) == "" {
		return []models.Diagnostic{}, nil
	}
	return Translate(payload)
}
