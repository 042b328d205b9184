package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/session"
)

// recordingLinter publishes a fixed diagnostic for every opened document.
type recordingLinter struct {
	store *diagnostics.Store

	mu     sync.Mutex
	events []string
	docs   []session.Document
}

func (r *recordingLinter) add(kind string, doc session.Document) {
	r.mu.Lock()
	r.events = append(r.events, kind+" "+doc.URI)
	r.docs = append(r.docs, doc)
	r.mu.Unlock()
}

func (r *recordingLinter) HandleOpen(doc session.Document) {
	r.add("open", doc)
	r.store.Set(doc.URI, []models.Diagnostic{{
		Line: 4, EndChar: math.MaxInt32, Message: "bad row", Severity: models.SeverityError, Source: "csvlinter",
	}})
}
func (r *recordingLinter) HandleChange(doc session.Document) { r.add("change", doc) }
func (r *recordingLinter) HandleSave(doc session.Document)   { r.add("save", doc) }
func (r *recordingLinter) HandleFocus(doc session.Document)  { r.add("focus", doc) }
func (r *recordingLinter) HandleClose(uri string) {
	r.add("close", session.Document{URI: uri})
	r.store.Forget(uri)
}
func (r *recordingLinter) Reinstall(ctx context.Context) bool {
	r.add("reinstall", session.Document{})
	return true
}

func frame(t *testing.T, msgs ...any) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		require.NoError(t, err)
		require.NoError(t, writeMessage(&buf, payload))
	}
	return &buf
}

func request(id int, method string, params any) map[string]any {
	m := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		m["params"] = params
	}
	return m
}

func notification(method string, params any) map[string]any {
	m := map[string]any{"jsonrpc": "2.0", "method": method}
	if params != nil {
		m["params"] = params
	}
	return m
}

func readAll(t *testing.T, out *bytes.Buffer) []rpcMessage {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(out.Bytes()))
	var msgs []rpcMessage
	for {
		payload, err := readMessage(r)
		if errors.Is(err, io.EOF) {
			return msgs
		}
		require.NoError(t, err)
		var msg rpcMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		msgs = append(msgs, msg)
	}
}

func TestServerSession(t *testing.T) {
	uri := "file:///data/a.csv"
	in := frame(t,
		request(1, "initialize", map[string]any{}),
		notification("initialized", map[string]any{}),
		notification("textDocument/didOpen", didOpenTextDocumentParams{
			TextDocument: textDocumentItem{URI: uri, LanguageID: "csv", Version: 1, Text: "a\n"},
		}),
		notification("textDocument/didChange", didChangeTextDocumentParams{
			TextDocument:   versionedTextDocumentIdentifier{URI: uri, Version: 2},
			ContentChanges: []textDocumentContentChangeEvent{{Text: "old"}, {Text: "a,b\n"}},
		}),
		notification("textDocument/didSave", didSaveTextDocumentParams{TextDocument: textDocumentIdentifier{URI: uri}}),
		notification("csvls/didFocus", didFocusTextDocumentParams{TextDocument: textDocumentIdentifier{URI: uri}}),
		notification("textDocument/didClose", didCloseTextDocumentParams{TextDocument: textDocumentIdentifier{URI: uri}}),
		request(2, "shutdown", nil),
		notification("exit", nil),
	)

	var out bytes.Buffer
	store := diagnostics.New()
	linter := &recordingLinter{store: store}
	initialized := make(chan struct{})
	srv := NewServer(in, &out, store, ServerOptions{
		Version:       "test",
		OnInitialized: func(ctx context.Context) { close(initialized) },
	})
	srv.SetLinter(linter)

	err := srv.Run(context.Background())
	assert.ErrorIs(t, err, ErrExit)
	<-initialized

	assert.Equal(t, []string{
		"open " + uri, "change " + uri, "save " + uri, "focus " + uri, "close " + uri,
	}, linter.events)
	assert.Equal(t, "a,b\n", *linter.docs[1].Text)
	assert.Equal(t, "csv", linter.docs[1].LanguageID)
	assert.Nil(t, linter.docs[2].Text)

	msgs := readAll(t, &out)
	require.Len(t, msgs, 4)

	// initialize response
	var init initializeResult
	require.NoError(t, json.Unmarshal(msgs[0].Result, &init))
	assert.Equal(t, 1, init.Capabilities.TextDocumentSync.Change)
	assert.Equal(t, []string{CommandReinstall}, init.Capabilities.ExecuteCommandProvider.Commands)
	assert.Equal(t, "csvls", init.ServerInfo.Name)

	// diagnostics from open
	assert.Equal(t, "textDocument/publishDiagnostics", msgs[1].Method)
	var published publishDiagnosticsParams
	require.NoError(t, json.Unmarshal(msgs[1].Params, &published))
	assert.Equal(t, uri, published.URI)
	require.Len(t, published.Diagnostics, 1)
	d := published.Diagnostics[0]
	assert.Equal(t, 4, d.Range.Start.Line)
	assert.Equal(t, 0, d.Range.Start.Character)
	assert.Equal(t, math.MaxInt32, d.Range.End.Character)
	assert.Equal(t, 1, d.Severity)
	assert.Equal(t, "bad row", d.Message)

	// cleared on close
	require.NoError(t, json.Unmarshal(msgs[2].Params, &published))
	assert.NotNil(t, published.Diagnostics)
	assert.Empty(t, published.Diagnostics)

	// shutdown response
	assert.Equal(t, "2", string(msgs[3].ID))
	assert.Nil(t, msgs[3].Error)
}

func TestServerExitWithoutShutdown(t *testing.T) {
	var out bytes.Buffer
	srv := NewServer(frame(t, notification("exit", nil)), &out, diagnostics.New(), ServerOptions{})
	assert.ErrorIs(t, srv.Run(context.Background()), ErrExitWithoutShutdown)
}

func TestServerEOF(t *testing.T) {
	var out bytes.Buffer
	srv := NewServer(bytes.NewReader(nil), &out, diagnostics.New(), ServerOptions{})
	assert.NoError(t, srv.Run(context.Background()))
}

func TestServerUnknownMethodAndCommand(t *testing.T) {
	in := frame(t,
		request(1, "textDocument/hover", map[string]any{}),
		notification("$/cancelRequest", map[string]any{"id": 1}),
		request(2, "workspace/executeCommand", executeCommandParams{Command: "csvls.nope"}),
	)
	var out bytes.Buffer
	srv := NewServer(in, &out, diagnostics.New(), ServerOptions{})
	require.NoError(t, srv.Run(context.Background()))

	msgs := readAll(t, &out)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Error)
	assert.Equal(t, codeMethodNotFound, msgs[0].Error.Code)
	require.NotNil(t, msgs[1].Error)
	assert.Equal(t, codeInvalidParams, msgs[1].Error.Code)
}

func TestServerSkipsMalformedNotifications(t *testing.T) {
	uri := "file:///data/a.csv"
	in := frame(t,
		notification("textDocument/didOpen", map[string]any{"textDocument": 42}),
		notification("textDocument/didChange", map[string]any{"contentChanges": "oops"}),
		notification("textDocument/didSave", []int{1}),
		notification("textDocument/didClose", "x"),
		notification("csvls/didFocus", true),
		notification("textDocument/didOpen", map[string]any{
			"textDocument": map[string]any{"uri": uri, "languageId": "csv", "version": 1, "text": "a,b\n"},
		}),
	)
	var out bytes.Buffer
	store := diagnostics.New()
	linter := &recordingLinter{store: store}
	srv := NewServer(in, &out, store, ServerOptions{})
	srv.SetLinter(linter)

	require.NoError(t, srv.Run(context.Background()))
	linter.mu.Lock()
	defer linter.mu.Unlock()
	assert.Equal(t, []string{"open " + uri}, linter.events)
}

func TestServerReinstallCommand(t *testing.T) {
	in := frame(t, request(7, "workspace/executeCommand", executeCommandParams{Command: CommandReinstall}))
	var out bytes.Buffer
	store := diagnostics.New()
	linter := &recordingLinter{store: store}
	srv := NewServer(in, &out, store, ServerOptions{})
	srv.SetLinter(linter)
	require.NoError(t, srv.Run(context.Background()))

	msgs := readAll(t, &out)
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", string(msgs[0].ID))
	assert.Equal(t, "true", string(msgs[0].Result))
	assert.Equal(t, []string{"reinstall "}, linter.events)
}

func TestServerRejectsRequestsAfterShutdown(t *testing.T) {
	in := frame(t,
		request(1, "shutdown", nil),
		request(2, "initialize", map[string]any{}),
	)
	var out bytes.Buffer
	srv := NewServer(in, &out, diagnostics.New(), ServerOptions{})
	require.NoError(t, srv.Run(context.Background()))

	msgs := readAll(t, &out)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[1].Error)
	assert.Equal(t, codeInvalidRequest, msgs[1].Error.Code)
}

func TestServerShowMessage(t *testing.T) {
	var out bytes.Buffer
	srv := NewServer(bytes.NewReader(nil), &out, diagnostics.New(), ServerOptions{})
	srv.Info("Downloading csvlinter...")
	srv.Error("Failed to download csvlinter")

	msgs := readAll(t, &out)
	require.Len(t, msgs, 2)
	var p showMessageParams
	require.NoError(t, json.Unmarshal(msgs[0].Params, &p))
	assert.Equal(t, messageInfo, p.Type)
	require.NoError(t, json.Unmarshal(msgs[1].Params, &p))
	assert.Equal(t, messageError, p.Type)
	assert.Equal(t, "Failed to download csvlinter", p.Message)
}
