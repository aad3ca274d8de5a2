package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leapstack-labs/sqlsense/internal/document"
	"github.com/leapstack-labs/sqlsense/internal/engine"
	"github.com/leapstack-labs/sqlsense/internal/scheduler"
)

// JSON-RPC error codes.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// defaultRequestTimeout bounds how long a request waits for analysis.
const defaultRequestTimeout = 2 * time.Second

// Options configures a Server.
type Options struct {
	// Engine configures the analysis engine. OnAnalyzed is wrapped so that
	// diagnostics are published after every analysis.
	Engine engine.Config
	// Registerer receives the server metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// RequestTimeout bounds completion and code action requests.
	RequestTimeout time.Duration
	Version        string
	Logger         *slog.Logger
}

// Server implements the Language Server Protocol for SQL scripts.
type Server struct {
	engine  *engine.Engine
	timeout time.Duration
	version string
	metrics *metrics

	// Project context
	rootPath    string
	initialized bool

	// I/O
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	logger *slog.Logger

	// Shutdown state
	shutdown   bool
	exited     bool
	shutdownMu sync.RWMutex
}

// NewServer creates a server reading requests from reader and writing
// responses and notifications to writer.
func NewServer(reader io.Reader, writer io.Writer, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		timeout: opts.RequestTimeout,
		version: opts.Version,
		metrics: newMetrics(opts.Registerer),
		reader:  bufio.NewReader(reader),
		writer:  writer,
		logger:  logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}

	cfg := opts.Engine
	next := cfg.OnAnalyzed
	cfg.OnAnalyzed = func(uri string, res scheduler.JobResult) {
		s.publishDiagnostics(uri)
		if next != nil {
			next(uri, res)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	e, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	s.engine = e
	return s, nil
}

// Engine returns the engine behind the server.
func (s *Server) Engine() *engine.Engine { return s.engine }

// Run processes JSON-RPC messages until the client sends exit or closes the
// stream. Open documents are closed on return.
func (s *Server) Run() error {
	s.logger.Info("sqlsense LSP server starting", "version", s.version)
	defer s.engine.Shutdown()

	for {
		s.shutdownMu.RLock()
		exited := s.exited
		s.shutdownMu.RUnlock()
		if exited {
			return nil
		}

		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Info("client disconnected")
				return nil
			}
			s.logger.Error("error reading message", "error", err)
			continue
		}

		if err := s.handleMessage(msg); err != nil {
			s.logger.Error("error handling message", "method", msg.Method, "error", err)
		}
	}
}

// JSONRPCMessage represents a JSON-RPC 2.0 message.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// readMessage reads a JSON-RPC message from the input stream.
func (s *Server) readMessage() (*JSONRPCMessage, error) {
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}

		if lengthStr, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, err = strconv.Atoi(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}
	return &msg, nil
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(id *json.RawMessage, result any, err *JSONRPCError) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
	}

	if err != nil {
		msg.Error = err
	} else {
		resultBytes, _ := json.Marshal(result)
		msg.Result = resultBytes
	}

	s.writeMessage(&msg)
}

// sendError responds to a request with an error and returns it for logging.
func (s *Server) sendError(id *json.RawMessage, code int, err error) error {
	s.sendResponse(id, nil, &JSONRPCError{Code: code, Message: err.Error()})
	return err
}

// sendNotification sends a JSON-RPC notification (no ID).
func (s *Server) sendNotification(method string, params any) {
	msg := JSONRPCMessage{
		JSONRPC: "2.0",
		Method:  method,
	}

	if params != nil {
		paramsBytes, _ := json.Marshal(params)
		msg.Params = paramsBytes
	}

	s.writeMessage(&msg)
}

// writeMessage writes a JSON-RPC message to the output stream.
func (s *Server) writeMessage(msg *JSONRPCMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("error marshaling message", "error", err)
		return
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	_, _ = s.writer.Write([]byte(header))
	_, _ = s.writer.Write(body)
}

// handleMessage dispatches a message inside a span and records its metrics.
func (s *Server) handleMessage(msg *JSONRPCMessage) error {
	began := time.Now()
	ctx, span := tracer.Start(context.Background(), "lsp "+msg.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", msg.Method),
			attribute.Bool("rpc.notification", msg.ID == nil),
		))
	defer span.End()

	err := s.dispatch(ctx, msg)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.requests.WithLabelValues(msg.Method, status).Inc()
	s.metrics.duration.WithLabelValues(msg.Method).Observe(time.Since(began).Seconds())
	return err
}

func (s *Server) dispatch(ctx context.Context, msg *JSONRPCMessage) error {
	s.logger.Debug("received", "method", msg.Method)

	s.shutdownMu.RLock()
	down := s.shutdown
	s.shutdownMu.RUnlock()
	if down && msg.Method != "exit" {
		if msg.ID != nil {
			return s.sendError(msg.ID, codeInvalidRequest, errors.New("server is shutting down"))
		}
		return nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return s.handleInitialized(msg)
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		return s.handleExit(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/completion":
		return s.handleCompletion(ctx, msg)
	case "textDocument/hover":
		return s.handleHover(msg)
	case "textDocument/definition":
		return s.handleDefinition(msg)
	case "textDocument/codeAction":
		return s.handleCodeAction(ctx, msg)
	case "sqlsense/viewport":
		return s.handleViewport(msg)
	default:
		if msg.ID != nil {
			// Unknown method with ID - respond with method not found
			s.sendResponse(msg.ID, nil, &JSONRPCError{
				Code:    codeMethodNotFound,
				Message: "Method not found: " + msg.Method,
			})
		}
		return nil
	}
}

// --- Lifecycle handlers ---

func (s *Server) handleInitialize(msg *JSONRPCMessage) error {
	var params InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err)
	}

	s.rootPath = URIToPath(params.RootURI)
	s.logger.Info("project root", "path", s.rootPath)

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindIncremental,
			},
			CompletionProvider: &CompletionOptions{
				TriggerCharacters: s.triggerCharacters(),
			},
			HoverProvider:      true,
			DefinitionProvider: true,
			CodeActionProvider: &CodeActionOptions{
				CodeActionKinds: []CodeActionKind{CodeActionKindRefactorRewrite},
			},
		},
		ServerInfo: &ServerInfo{Name: "sqlsense", Version: s.version},
	}

	s.sendResponse(msg.ID, result, nil)
	return nil
}

// triggerCharacters splits the configured trigger characters, "." when
// none are set.
func (s *Server) triggerCharacters() []string {
	chars := s.engine.TriggerChars()
	if chars == "" {
		chars = "."
	}
	out := make([]string, 0, len(chars))
	for _, r := range chars {
		out = append(out, string(r))
	}
	return out
}

func (s *Server) handleInitialized(_ *JSONRPCMessage) error {
	s.initialized = true
	s.logger.Info("server initialized")
	return nil
}

func (s *Server) handleShutdown(msg *JSONRPCMessage) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.engine.Shutdown()
	s.metrics.documents.Set(0)

	s.sendResponse(msg.ID, nil, nil)
	s.logger.Info("server shutdown")
	return nil
}

func (s *Server) handleExit(_ *JSONRPCMessage) error {
	s.shutdownMu.Lock()
	s.exited = true
	s.shutdownMu.Unlock()
	s.logger.Info("server exit")
	return nil
}

// --- Document handlers ---

func (s *Server) handleDidOpen(msg *JSONRPCMessage) error {
	var params DidOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	doc := params.TextDocument
	if _, err := s.engine.Open(doc.URI, doc.Text, doc.Version); err != nil {
		return err
	}
	s.metrics.documents.Set(float64(len(s.engine.URIs())))
	return nil
}

func (s *Server) handleDidClose(msg *JSONRPCMessage) error {
	var params DidCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	uri := params.TextDocument.URI
	if err := s.engine.Close(uri); err != nil {
		return err
	}
	s.metrics.documents.Set(float64(len(s.engine.URIs())))

	// Clear diagnostics
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []Diagnostic{},
	})
	return nil
}

// handleDidChange applies incremental changes one at a time, each against
// the text left by the previous one.
func (s *Server) handleDidChange(msg *JSONRPCMessage) error {
	var params DidChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	uri := params.TextDocument.URI
	sess, err := s.engine.Session(uri)
	if err != nil {
		return err
	}
	for i, ev := range params.ContentChanges {
		version := 0
		if i == len(params.ContentChanges)-1 {
			version = params.TextDocument.Version
		}
		ch := toChange(sess.Document, ev)
		if err := s.engine.ApplyChanges(uri, []document.Change{ch}, version); err != nil {
			return fmt.Errorf("change %d of %s: %w", i, uri, err)
		}
	}
	return nil
}

func (s *Server) handleViewport(msg *JSONRPCMessage) error {
	var params ViewportParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	return s.engine.SetVisibleLines(params.TextDocument.URI, int(params.FirstLine), int(params.LastLine))
}

// session looks up the document of a request, answering null when it is
// not open.
func (s *Server) session(msg *JSONRPCMessage, uri string) (*engine.Session, bool) {
	sess, err := s.engine.Session(uri)
	if err != nil {
		s.logger.Debug("request for unknown document", "uri", uri, "error", err)
		s.sendResponse(msg.ID, nil, nil)
		return nil, false
	}
	return sess, true
}

// URIToPath converts a file:// URI to a file system path.
func URIToPath(uri string) string {
	const prefix = "file://"
	if strings.HasPrefix(uri, prefix) {
		return uri[len(prefix):]
	}
	return uri
}

// PathToURI converts a file system path to a file:// URI.
func PathToURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + path
}
