// Package engine keeps one analysis session per open document. A session
// ties the document text to its syntax context, the background scheduler
// that fills it and the completion builder reading it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/completion"
	"github.com/leapstack-labs/sqlsense/internal/document"
	"github.com/leapstack-labs/sqlsense/internal/scheduler"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
)

var (
	// ErrNotOpen is returned for a URI without a session.
	ErrNotOpen = errors.New("document not open")
	// ErrClosed is returned once the engine is shut down.
	ErrClosed = errors.New("engine closed")
)

// completionRetries bounds how often a completion request waits again when
// the document changed while its context was built.
const completionRetries = 3

// Config holds engine configuration.
type Config struct {
	// Catalog answers metadata lookups. It may be nil.
	Catalog catalog.Provider
	// ReadMetadata enables catalog lookups during analysis and completion.
	ReadMetadata bool
	// Variables resolves ${name} references.
	Variables     semantic.VariableResolver
	MaxProblems   int
	PseudoColumns []string

	// Split configures statement boundaries.
	Split parser.SplitOptions
	// Delay is the debounce delay before background analysis.
	Delay        time.Duration
	ScreenMargin int
	TriggerChars string

	KeywordCase  string
	MaxProposals int

	// OnAnalyzed is called after every background job that was not
	// cancelled.
	OnAnalyzed func(uri string, res scheduler.JobResult)
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Engine owns the sessions of all open documents. It is safe for concurrent
// use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	rec    *semantic.Recognizer

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	// afterWait runs between waiting for results and reading them.
	afterWait func(uri string, attempt int)
}

// New creates an engine with no open documents.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ScreenMargin < 0 {
		return nil, fmt.Errorf("screen margin must not be negative, got %d", cfg.ScreenMargin)
	}
	switch cfg.KeywordCase {
	case "", completion.KeywordCaseUpper, completion.KeywordCaseLower, completion.KeywordCaseAsTyped:
	default:
		return nil, fmt.Errorf("unknown keyword case %q", cfg.KeywordCase)
	}

	logger.Debug("initializing engine",
		"read_metadata", cfg.ReadMetadata,
		"delay", cfg.Delay,
		"screen_margin", cfg.ScreenMargin)

	rec := semantic.NewRecognizer(semantic.Options{
		Catalog:       cfg.Catalog,
		ReadMetadata:  cfg.ReadMetadata,
		Variables:     cfg.Variables,
		MaxProblems:   cfg.MaxProblems,
		PseudoColumns: cfg.PseudoColumns,
		CommandMarker: cfg.Split.CommandMarker,
		Logger:        logger,
	})
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		rec:      rec,
		sessions: make(map[string]*Session),
	}, nil
}

// TriggerChars returns the characters that shorten the debounce delay.
func (e *Engine) TriggerChars() string { return e.cfg.TriggerChars }

// Session is the analysis state of one open document.
type Session struct {
	ID       uuid.UUID
	URI      string
	Opened   time.Time
	Document *document.Document
	Syntax   *syntaxctx.Context

	sched   *scheduler.Scheduler
	builder *completion.Builder
	unsub   func()
}

// Scheduler returns the session's background scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

func (s *Session) close() {
	s.unsub()
	s.sched.Close()
	s.builder.Close()
}

// Open starts a session for uri and queues its text for analysis. Opening
// an open document replaces its text.
func (e *Engine) Open(uri, text string, version int) (*Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := e.sessions[uri]; ok {
		e.mu.Unlock()
		s.Document.Swap(text, version)
		return s, nil
	}
	s := e.newSession(uri, text, version)
	e.sessions[uri] = s
	e.mu.Unlock()

	s.sched.Reanalyze()
	e.logger.Info("document opened", "uri", uri, "session", s.ID, "length", len(text))
	return s, nil
}

func (e *Engine) newSession(uri, text string, version int) *Session {
	logger := e.logger.With("uri", uri)
	doc := document.New(uri, text, version, logger)
	sctx := syntaxctx.New(syntaxctx.Options{
		BlankLineDelimiter: e.cfg.Split.BlankLineDelimiter,
		CommandMarker:      e.cfg.Split.CommandMarker,
		Logger:             logger,
	})

	var onDone func(scheduler.JobResult)
	if e.cfg.OnAnalyzed != nil {
		onDone = func(res scheduler.JobResult) { e.cfg.OnAnalyzed(uri, res) }
	}
	sched := scheduler.New(doc, sctx, e.rec, scheduler.Options{
		Delay:        e.cfg.Delay,
		ScreenMargin: e.cfg.ScreenMargin,
		TriggerChars: e.cfg.TriggerChars,
		Split:        e.cfg.Split,
		OnJobDone:    onDone,
		Logger:       logger,
	})
	builder := completion.NewBuilder(sctx, completion.Options{
		Catalog:      e.cfg.Catalog,
		ReadMetadata: e.cfg.ReadMetadata,
		KeywordCase:  e.cfg.KeywordCase,
		MaxProposals: e.cfg.MaxProposals,
		Logger:       logger,
	})
	return &Session{
		ID:       uuid.New(),
		URI:      uri,
		Opened:   time.Now(),
		Document: doc,
		Syntax:   sctx,
		sched:    sched,
		builder:  builder,
		unsub:    doc.Subscribe(sched),
	}
}

// Session returns the session of uri.
func (e *Engine) Session(uri string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	s, ok := e.sessions[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotOpen)
	}
	return s, nil
}

// URIs returns the open documents, sorted.
func (e *Engine) URIs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.sessions))
	for uri := range e.sessions {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Close ends the session of uri.
func (e *Engine) Close(uri string) error {
	e.mu.Lock()
	s, ok := e.sessions[uri]
	delete(e.sessions, uri)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", uri, ErrNotOpen)
	}
	s.close()
	e.logger.Info("document closed", "uri", uri, "session", s.ID)
	return nil
}

// Edit replaces removed bytes at offset of uri with inserted.
func (e *Engine) Edit(uri string, offset, removed int, inserted string) error {
	s, err := e.Session(uri)
	if err != nil {
		return err
	}
	return s.Document.Edit(offset, removed, inserted, 0)
}

// ApplyChanges applies editor changes to uri and sets its version.
func (e *Engine) ApplyChanges(uri string, changes []document.Change, version int) error {
	s, err := e.Session(uri)
	if err != nil {
		return err
	}
	return s.Document.ApplyChanges(changes, version)
}

// Swap replaces the whole text of uri and analyses it from scratch.
func (e *Engine) Swap(uri, text string, version int) error {
	s, err := e.Session(uri)
	if err != nil {
		return err
	}
	s.Document.Swap(text, version)
	return nil
}

// SetViewport records the visible byte range of uri.
func (e *Engine) SetViewport(uri string, visible syntaxctx.Interval) error {
	s, err := e.Session(uri)
	if err != nil {
		return err
	}
	s.Document.SetViewport(visible)
	return nil
}

// SetVisibleLines records the visible lines of uri.
func (e *Engine) SetVisibleLines(uri string, first, last int) error {
	s, err := e.Session(uri)
	if err != nil {
		return err
	}
	s.Document.SetVisibleLines(first, last)
	return nil
}

// Context returns the current script items of uri without waiting for
// pending analysis.
func (e *Engine) Context(uri string) (*syntaxctx.Snapshot, error) {
	s, err := e.Session(uri)
	if err != nil {
		return nil, err
	}
	return s.Syntax.Snapshot(), nil
}

// Flush waits until every change made to uri so far is analysed.
func (e *Engine) Flush(ctx context.Context, uri string) error {
	s, err := e.Session(uri)
	if err != nil {
		return err
	}
	return s.sched.Flush(ctx)
}

// FlushAll flushes every open document.
func (e *Engine) FlushAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range e.snapshotSessions() {
		g.Go(func() error { return s.sched.Flush(ctx) })
	}
	return g.Wait()
}

// Reanalyze queues every open document for analysis, keeping current
// results until they are replaced. It is called after the catalog changes.
func (e *Engine) Reanalyze() {
	sessions := e.snapshotSessions()
	for _, s := range sessions {
		s.sched.Reanalyze()
	}
	e.logger.Info("reanalyzing open documents", "count", len(sessions))
}

// ReloadCatalog swaps the catalog behind r and reanalyzes every document.
func (e *Engine) ReloadCatalog(r *catalog.Reloadable, cat *catalog.Static) {
	r.Store(cat)
	e.Reanalyze()
}

func (e *Engine) snapshotSessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// CompletionContext waits until the analysis at offset is current and
// returns the completion context there.
func (e *Engine) CompletionContext(ctx context.Context, uri string, offset int) (*completion.Context, error) {
	s, err := e.Session(uri)
	if err != nil {
		return nil, err
	}
	var c *completion.Context
	err = e.withCurrent(ctx, s, offset, func(text string) {
		c = s.builder.Context(text, offset)
	})
	return c, err
}

// Complete returns the completion context and ranked proposals at offset.
func (e *Engine) Complete(ctx context.Context, uri string, offset int) (*completion.Context, []completion.Proposal, error) {
	s, err := e.Session(uri)
	if err != nil {
		return nil, nil, err
	}
	var (
		c     *completion.Context
		props []completion.Proposal
	)
	err = e.withCurrent(ctx, s, offset, func(text string) {
		c = s.builder.Context(text, offset)
	})
	if err != nil {
		return nil, nil, err
	}
	// catalog lookups run outside the document lock
	props = s.builder.Proposals(ctx, c)
	return c, props, nil
}

// withCurrent waits for the results at offset and runs fn on the text they
// were computed for. When an edit lands in between it waits again, and
// after completionRetries attempts accepts what is there.
func (e *Engine) withCurrent(ctx context.Context, s *Session, offset int, fn func(text string)) error {
	for attempt := 0; ; attempt++ {
		rev := s.Document.Revision()
		if err := s.sched.WaitFor(ctx, offset); err != nil {
			return err
		}
		if e.afterWait != nil {
			e.afterWait(s.URI, attempt)
		}
		ok := false
		s.Document.Read(func(text string, _ int) {
			// edits are held back here, so the revision is stable
			if s.Document.Revision() != rev && attempt < completionRetries {
				return
			}
			fn(text)
			ok = true
		})
		if ok {
			return nil
		}
		e.logger.Debug("document changed while completing, waiting again", "uri", s.URI, "attempt", attempt)
	}
}

// SymbolAt returns the item at offset of uri and the symbol under offset,
// from the current results.
func (e *Engine) SymbolAt(uri string, offset int) (syntaxctx.ScriptItem, *semantic.SymbolEntry, error) {
	s, err := e.Session(uri)
	if err != nil {
		return syntaxctx.ScriptItem{}, nil, err
	}
	it, ok := s.Syntax.FindScriptItem(offset)
	if !ok || it.Model == nil {
		return it, nil, nil
	}
	return it, it.Model.SymbolAt(offset - it.Start), nil
}

// Diagnostic is a problem placed in document coordinates.
type Diagnostic struct {
	Start    int
	End      int
	Severity semantic.Severity
	Message  string
}

// Diagnostics returns the problems of every analysed item of uri.
func (e *Engine) Diagnostics(uri string) ([]Diagnostic, error) {
	s, err := e.Session(uri)
	if err != nil {
		return nil, err
	}
	var out []Diagnostic
	for _, it := range s.Syntax.Snapshot().Items {
		for _, p := range it.Problems() {
			out = append(out, Diagnostic{
				Start:    it.Start + p.Start,
				End:      it.Start + p.End,
				Severity: p.Severity,
				Message:  p.Message,
			})
		}
	}
	return out, nil
}

// Shutdown closes every session. Further calls fail with ErrClosed.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := e.sessions
	e.sessions = map[string]*Session{}
	e.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	e.logger.Debug("engine shut down", "sessions", len(sessions))
}
