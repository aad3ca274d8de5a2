package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/engine"
	"github.com/leapstack-labs/sqlsense/internal/testutil"
)

const testURI = "file:///work/query.sql"

func testCatalog() *catalog.Static {
	cat := catalog.NewStatic("db", "main")
	cat.AddDefaultTable("table1", "attribute1", "attribute2", "attribute3")
	cat.AddDefaultTable("table2", "col_x", "col_y")
	return cat
}

// client drives a server over in-memory pipes.
type client struct {
	t      *testing.T
	server *Server
	in     *io.PipeWriter
	nextID int

	responses     chan *JSONRPCMessage
	notifications chan *JSONRPCMessage
}

func newClient(t *testing.T, reg prometheus.Registerer) *client {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv, err := NewServer(inR, outW, Options{
		Engine: engine.Config{
			Catalog:      testCatalog(),
			ReadMetadata: true,
			TriggerChars: ".",
		},
		Registerer: reg,
		Version:    "test",
		Logger:     testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	c := &client{
		t:             t,
		server:        srv,
		in:            inW,
		responses:     make(chan *JSONRPCMessage, 16),
		notifications: make(chan *JSONRPCMessage, 256),
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Run()
		_ = outW.Close()
	}()
	go c.readLoop(bufio.NewReader(outR))

	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return c
}

func (c *client) readLoop(r *bufio.Reader) {
	for {
		msg, err := readFrame(r)
		if err != nil {
			close(c.responses)
			return
		}
		if msg.ID != nil && msg.Method == "" {
			c.responses <- msg
			continue
		}
		select {
		case c.notifications <- msg:
		default:
		}
	}
}

func readFrame(r *bufio.Reader) (*JSONRPCMessage, error) {
	length := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			if length, err = strconv.Atoi(v); err != nil {
				return nil, err
			}
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var msg JSONRPCMessage
	return &msg, json.Unmarshal(body, &msg)
}

func (c *client) send(msg JSONRPCMessage) {
	c.t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(c.t, err)
	_, err = fmt.Fprintf(c.in, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(c.t, err)
}

func (c *client) notify(method string, params any) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	c.send(JSONRPCMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

// call sends a request and waits for its response.
func (c *client) call(method string, params any) *JSONRPCMessage {
	c.t.Helper()
	c.nextID++
	id := json.RawMessage(strconv.Itoa(c.nextID))
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	c.send(JSONRPCMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: raw})

	select {
	case msg, ok := <-c.responses:
		require.True(c.t, ok, "connection closed")
		require.Equal(c.t, string(id), string(*msg.ID))
		return msg
	case <-time.After(5 * time.Second):
		c.t.Fatalf("no response to %s", method)
		return nil
	}
}

// result calls method and decodes a successful result into out.
func (c *client) result(method string, params, out any) {
	c.t.Helper()
	msg := c.call(method, params)
	require.Nil(c.t, msg.Error, "%s failed", method)
	require.NoError(c.t, json.Unmarshal(msg.Result, out))
}

// diagnostics waits for a publishDiagnostics notification for uri matching
// accept.
func (c *client) diagnostics(uri string, accept func([]Diagnostic) bool) []Diagnostic {
	c.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-c.notifications:
			if msg.Method != "textDocument/publishDiagnostics" {
				continue
			}
			var p PublishDiagnosticsParams
			require.NoError(c.t, json.Unmarshal(msg.Params, &p))
			if p.URI == uri && accept(p.Diagnostics) {
				return p.Diagnostics
			}
		case <-deadline:
			c.t.Fatalf("no matching diagnostics for %s", uri)
			return nil
		}
	}
}

func (c *client) open(text string) {
	c.t.Helper()
	c.notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: testURI, LanguageID: "sql", Version: 1, Text: text},
	})
}

func (c *client) initialize() InitializeResult {
	c.t.Helper()
	var res InitializeResult
	c.result("initialize", InitializeParams{RootURI: "file:///work"}, &res)
	c.notify("initialized", struct{}{})
	return res
}

func position(line, char uint32) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Position:     Position{Line: line, Character: char},
	}
}

func TestInitialize(t *testing.T) {
	c := newClient(t, nil)
	res := c.initialize()

	caps := res.Capabilities
	require.NotNil(t, caps.TextDocumentSync)
	assert.Equal(t, TextDocumentSyncKindIncremental, caps.TextDocumentSync.Change)
	assert.True(t, caps.TextDocumentSync.OpenClose)
	require.NotNil(t, caps.CompletionProvider)
	assert.Equal(t, []string{"."}, caps.CompletionProvider.TriggerCharacters)
	assert.True(t, caps.HoverProvider)
	assert.True(t, caps.DefinitionProvider)
	require.NotNil(t, res.ServerInfo)
	assert.Equal(t, "sqlsense", res.ServerInfo.Name)
	assert.Equal(t, "/work", c.server.rootPath)
}

func TestUnknownMethod(t *testing.T) {
	c := newClient(t, nil)
	msg := c.call("textDocument/formatting", struct{}{})
	require.NotNil(t, msg.Error)
	assert.Equal(t, codeMethodNotFound, msg.Error.Code)
}

func TestInvalidParams(t *testing.T) {
	c := newClient(t, nil)
	msg := c.call("textDocument/hover", []int{1})
	require.NotNil(t, msg.Error)
	assert.Equal(t, codeInvalidParams, msg.Error.Code)
}

func TestDiagnosticsPublishedAfterOpen(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT 1;\nSELECT nope FROM table1")

	diags := c.diagnostics(testURI, func(d []Diagnostic) bool { return len(d) > 0 })
	require.Len(t, diags, 1)
	assert.Equal(t, `unknown column "nope"`, diags[0].Message)
	assert.Equal(t, DiagnosticSeverityWarning, diags[0].Severity)
	assert.Equal(t, Range{Start: Position{1, 7}, End: Position{1, 11}}, diags[0].Range)
}

func TestDiagnosticsClearedAfterFix(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT nope FROM table1")
	c.diagnostics(testURI, func(d []Diagnostic) bool { return len(d) == 1 })

	rng := Range{Start: Position{0, 7}, End: Position{0, 11}}
	c.notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier{URI: testURI}, 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Range: &rng, Text: "attribute1"}},
	})
	c.diagnostics(testURI, func(d []Diagnostic) bool { return len(d) == 0 })

	sess, err := c.server.Engine().Session(testURI)
	require.NoError(t, err)
	assert.Equal(t, "SELECT attribute1 FROM table1", sess.Document.Text())
	assert.Equal(t, 2, sess.Document.Version())
}

func TestCompletionAfterIncrementalChanges(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	text := "SELECT * FROM table1 a WHERE "
	c.open(text)

	end := uint32(len(text))
	for i, ch := range []string{"a", "."} {
		at := Position{0, end + uint32(i)}
		c.notify("textDocument/didChange", DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier{URI: testURI}, 2 + i},
			ContentChanges: []TextDocumentContentChangeEvent{{Range: &Range{Start: at, End: at}, Text: ch}},
		})
	}

	var list CompletionList
	c.result("textDocument/completion", CompletionParams{TextDocumentPositionParams: position(0, end+2)}, &list)
	require.Len(t, list.Items, 3)
	for i, item := range list.Items {
		assert.Equal(t, fmt.Sprintf("attribute%d", i+1), item.Label)
		assert.Equal(t, CompletionItemKindField, item.Kind)
		require.NotNil(t, item.TextEdit)
		assert.Equal(t, Position{0, end + 2}, item.TextEdit.Range.Start)
	}
}

func TestCompletionOnUnknownDocument(t *testing.T) {
	c := newClient(t, nil)
	msg := c.call("textDocument/completion", CompletionParams{TextDocumentPositionParams: position(0, 0)})
	assert.Nil(t, msg.Error)
	assert.Equal(t, "null", string(msg.Result))
}

func TestHover(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT attribute1 FROM table1")
	c.diagnostics(testURI, func([]Diagnostic) bool { return true })

	var hover Hover
	c.result("textDocument/hover", HoverParams{position(0, 24)}, &hover)
	assert.Equal(t, MarkupKindMarkdown, hover.Contents.Kind)
	assert.Contains(t, hover.Contents.Value, "**table** `table1`")
	assert.Contains(t, hover.Contents.Value, "db.main.table1")
	require.NotNil(t, hover.Range)
	assert.Equal(t, Range{Start: Position{0, 23}, End: Position{0, 29}}, *hover.Range)

	c.result("textDocument/hover", HoverParams{position(0, 9)}, &hover)
	assert.Contains(t, hover.Contents.Value, "**column** `attribute1`")
}

func TestDefinitionOfAlias(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT a.attribute1 FROM table1 a")
	c.diagnostics(testURI, func([]Diagnostic) bool { return true })

	var loc Location
	c.result("textDocument/definition", DefinitionParams{position(0, 7)}, &loc)
	assert.Equal(t, testURI, loc.URI)
	assert.Equal(t, Range{Start: Position{0, 32}, End: Position{0, 33}}, loc.Range)
}

func TestExpandStarCodeAction(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT * FROM table1")
	c.diagnostics(testURI, func([]Diagnostic) bool { return true })

	var actions []CodeAction
	c.result("textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Range:        Range{Start: Position{0, 7}, End: Position{0, 7}},
	}, &actions)
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].Edit)
	edits := actions[0].Edit.Changes[testURI]
	require.Len(t, edits, 1)
	assert.Equal(t, "attribute1, attribute2, attribute3", edits[0].NewText)
	assert.Equal(t, Range{Start: Position{0, 7}, End: Position{0, 8}}, edits[0].Range)

	c.result("textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		Range:        Range{Start: Position{0, 16}, End: Position{0, 16}},
	}, &actions)
	assert.Empty(t, actions)
}

func TestViewportNotification(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT 1;\nSELECT 2;\nSELECT 3;\n")
	c.notify("sqlsense/viewport", ViewportParams{
		TextDocument: TextDocumentIdentifier{URI: testURI},
		FirstLine:    1,
		LastLine:     1,
	})
	// requests are handled in order, so the viewport is set once this returns
	c.call("textDocument/hover", HoverParams{position(0, 0)})

	sess, err := c.server.Engine().Session(testURI)
	require.NoError(t, err)
	v, ok := sess.Document.Viewport()
	require.True(t, ok)
	assert.Equal(t, 10, v.Start)
	assert.Equal(t, 20, v.End)
}

func TestDidCloseClearsDiagnostics(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	c.open("SELECT nope FROM table1")
	c.diagnostics(testURI, func(d []Diagnostic) bool { return len(d) == 1 })

	c.notify("textDocument/didClose", DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: testURI}})
	c.diagnostics(testURI, func(d []Diagnostic) bool { return len(d) == 0 })
	assert.Empty(t, c.server.Engine().URIs())
}

func TestShutdownRejectsRequests(t *testing.T) {
	c := newClient(t, nil)
	c.initialize()
	msg := c.call("shutdown", nil)
	assert.Nil(t, msg.Error)

	msg = c.call("textDocument/hover", HoverParams{position(0, 0)})
	require.NotNil(t, msg.Error)
	assert.Equal(t, codeInvalidRequest, msg.Error.Code)

	c.notify("exit", nil)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, reg)
	c.initialize()
	c.open("SELECT nope FROM table1")
	c.diagnostics(testURI, func(d []Diagnostic) bool { return len(d) == 1 })
	c.call("textDocument/formatting", struct{}{})

	m := c.server.metrics
	assert.InDelta(t, 1, promtest.ToFloat64(m.requests.WithLabelValues("initialize", "ok")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.documents), 0)
	assert.GreaterOrEqual(t, promtest.ToFloat64(m.diagnostics.WithLabelValues("warning")), 1.0)

	count, err := promtest.GatherAndCount(reg, "sqlsense_lsp_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 3)
}

func TestRequestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	c := newClient(t, nil)
	c.initialize()
	c.call("textDocument/formatting", struct{}{})
	// a span ends after its response is written
	c.call("textDocument/formatting", struct{}{})

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "lsp initialize")
	assert.Contains(t, names, "lsp initialized")
	assert.Contains(t, names, "lsp textDocument/formatting")
}

func TestColumnConversions(t *testing.T) {
	line := "SELECT 'é😀', x"
	tests := []struct {
		utf16 uint32
		byte  int
	}{
		{0, 0},
		{8, 8},
		{9, 10},  // after é
		{11, 14}, // after the surrogate pair
		{14, 17},
		{15, 18},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.byte, byteColumn(line, tt.utf16), "utf16 %d", tt.utf16)
		assert.Equal(t, tt.utf16, utf16Column(line, tt.byte), "byte %d", tt.byte)
	}
	assert.Equal(t, len(line), byteColumn(line, 100))
}

func TestURIConversions(t *testing.T) {
	assert.Equal(t, "/tmp/a.sql", URIToPath("file:///tmp/a.sql"))
	assert.Equal(t, "relative.sql", URIToPath("relative.sql"))
	assert.Equal(t, "file:///tmp/a.sql", PathToURI("/tmp/a.sql"))
	assert.Equal(t, "file:///tmp/a.sql", PathToURI("file:///tmp/a.sql"))
}
