// Package lsp serves csvls diagnostics over the Language Server Protocol
// on stdio.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/session"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// Linter receives document events.
type Linter interface {
	HandleOpen(doc session.Document)
	HandleChange(doc session.Document)
	HandleSave(doc session.Document)
	HandleFocus(doc session.Document)
	HandleClose(uri string)
	Reinstall(ctx context.Context) bool
}

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Version string
	Logger  *slog.Logger
	// OnInitialized runs in its own goroutine once the client has sent
	// "initialized". Provisioning belongs here so its progress messages
	// reach the client.
	OnInitialized func(ctx context.Context)
}

// Server handles stdio JSON-RPC for csvls.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex

	diags  *diagnostics.Store
	opts   ServerOptions
	logger *slog.Logger

	mu                sync.Mutex
	linter            Linter
	languages         map[string]string
	shutdownRequested bool
	baseCtx           context.Context
	wg                sync.WaitGroup
}

// NewServer constructs a new LSP server publishing from diags.
func NewServer(in io.Reader, out io.Writer, diags *diagnostics.Store, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		in:        bufio.NewReader(in),
		out:       bufio.NewWriter(out),
		diags:     diags,
		opts:      opts,
		logger:    logger,
		languages: make(map[string]string),
		baseCtx:   context.Background(),
	}
}

// SetLinter attaches the linter that receives document events.
func (s *Server) SetLinter(l Linter) {
	s.mu.Lock()
	s.linter = l
	s.mu.Unlock()
}

// Run serves LSP requests until exit or end of input.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	unsubscribe := s.diags.Subscribe(func(uri string, diags []models.Diagnostic) {
		if err := s.sendPublish(uri, convert(diags)); err != nil {
			s.logger.Warn("publish diagnostics failed", slog.String("uri", uri), slog.Any("error", err))
		}
	})
	defer unsubscribe()
	defer s.wg.Wait()

	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("failed to parse message", slog.Any("error", err))
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	s.mu.Lock()
	down := s.shutdownRequested
	s.mu.Unlock()
	if down && msg.Method != "exit" {
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeInvalidRequest, "server is shutting down")
		}
		return nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		s.handleInitialized()
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		if down {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "csvls/didFocus":
		return s.handleDidFocus(msg)
	case "workspace/executeCommand":
		return s.handleExecuteCommand(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeMethodNotFound, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    1,
				Save:      saveOptions{IncludeText: true},
			},
			ExecuteCommandProvider: executeCommandOptions{
				Commands: []string{CommandReinstall},
			},
		},
		ServerInfo: serverInfo{Name: "csvls", Version: s.opts.Version},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleInitialized() {
	if s.opts.OnInitialized == nil {
		return
	}
	ctx := s.context()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.opts.OnInitialized(ctx)
	}()
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	return s.sendResponse(msg.ID, nil)
}

// decodeParams unmarshals notification params. Malformed params are logged
// and the notification is dropped; the session keeps running.
func (s *Server) decodeParams(msg *rpcMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Params, v); err != nil {
		s.logger.Warn("dropping notification with invalid params",
			slog.String("method", msg.Method), slog.Any("error", err))
		return false
	}
	return true
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil
	}
	doc := params.TextDocument
	s.mu.Lock()
	s.languages[doc.URI] = doc.LanguageID
	s.mu.Unlock()

	text := doc.Text
	if l := s.getLinter(); l != nil {
		l.HandleOpen(session.Document{URI: doc.URI, LanguageID: doc.LanguageID, Text: &text})
	}
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil
	}
	if len(params.ContentChanges) == 0 {
		return nil
	}
	// Full sync: the last change holds the whole document.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	uri := params.TextDocument.URI
	if l := s.getLinter(); l != nil {
		l.HandleChange(session.Document{URI: uri, LanguageID: s.languageOf(uri), Text: &text})
	}
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil
	}
	uri := params.TextDocument.URI
	if l := s.getLinter(); l != nil {
		l.HandleSave(session.Document{URI: uri, LanguageID: s.languageOf(uri), Text: params.Text})
	}
	return nil
}

func (s *Server) handleDidFocus(msg *rpcMessage) error {
	var params didFocusTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil
	}
	uri := params.TextDocument.URI
	if l := s.getLinter(); l != nil {
		l.HandleFocus(session.Document{URI: uri, LanguageID: s.languageOf(uri)})
	}
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if !s.decodeParams(msg, &params) {
		return nil
	}
	uri := params.TextDocument.URI
	s.mu.Lock()
	delete(s.languages, uri)
	s.mu.Unlock()
	if l := s.getLinter(); l != nil {
		l.HandleClose(uri)
	}
	return nil
}

func (s *Server) handleExecuteCommand(msg *rpcMessage) error {
	var params executeCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	if params.Command != CommandReinstall {
		return s.sendError(msg.ID, codeInvalidParams, "unknown command: "+params.Command)
	}
	l := s.getLinter()
	if l == nil {
		return s.sendError(msg.ID, codeInvalidRequest, "linter not ready")
	}

	// Reinstalling downloads a release; answer when it is done without
	// blocking the read loop.
	id := msg.ID
	ctx := s.context()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ok := l.Reinstall(ctx)
		if err := s.sendResponse(id, ok); err != nil {
			s.logger.Warn("reinstall response failed", slog.Any("error", err))
		}
	}()
	return nil
}

// Info shows an informational message in the client.
func (s *Server) Info(msg string) {
	s.showMessage(messageInfo, msg)
}

// Error shows an error message in the client.
func (s *Server) Error(msg string) {
	s.showMessage(messageError, msg)
}

func (s *Server) showMessage(kind int, text string) {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "window/showMessage",
		"params":  showMessageParams{Type: kind, Message: text},
	}
	if err := s.send(msg); err != nil {
		s.logger.Warn("show message failed", slog.Any("error", err))
	}
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) sendPublish(uri string, list []lspDiagnostic) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Diagnostics: list,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) getLinter() Linter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linter
}

func (s *Server) languageOf(uri string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.languages[uri]
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func convert(diags []models.Diagnostic) []lspDiagnostic {
	list := make([]lspDiagnostic, 0, len(diags))
	for _, d := range diags {
		list = append(list, lspDiagnostic{
			Range: lspRange{
				Start: position{Line: d.Line, Character: d.StartChar},
				End:   position{Line: d.Line, Character: d.EndChar},
			},
			Severity: int(d.Severity),
			Code:     d.Kind,
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	return list
}
