package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
	"github.com/leapstack-labs/sqlsense/internal/testutil"
)

type textSource struct {
	mu   sync.Mutex
	text string
}

func (s *textSource) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *textSource) set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

type harness struct {
	t    *testing.T
	src  *textSource
	sctx *syntaxctx.Context
	s    *Scheduler
}

func newHarness(t *testing.T, text string, rec Recognizer, opts Options) *harness {
	t.Helper()
	if rec == nil {
		rec = semantic.NewRecognizer(semantic.Options{})
	}
	logger := testutil.NewTestLogger(t)
	opts.Logger = logger
	src := &textSource{text: text}
	sctx := syntaxctx.New(syntaxctx.Options{Logger: logger})
	s := New(src, sctx, rec, opts)
	t.Cleanup(s.Close)
	return &harness{t: t, src: src, sctx: sctx, s: s}
}

// edit replaces removed bytes at offset the way an editor would.
func (h *harness) edit(offset, removed int, inserted string) {
	old := h.src.Text()
	h.s.BeforeChange(offset, old[offset:offset+removed], inserted)
	h.src.set(old[:offset] + inserted + old[offset+removed:])
	h.s.AfterChange()
}

func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.s.Flush(ctx))
}

type itemSummary struct {
	Start, Length int
	Text          string
	Delimited     bool
	Command       bool
	Symbols       []string
}

func summarize(sctx *syntaxctx.Context) []itemSummary {
	var out []itemSummary
	for _, it := range sctx.Snapshot().Items {
		sum := itemSummary{
			Start:     it.Start,
			Length:    it.Length,
			Text:      it.Text,
			Delimited: it.EndsWithDelimiter,
			Command:   it.IsCommand,
		}
		for _, sym := range it.Symbols() {
			sum.Symbols = append(sum.Symbols, fmt.Sprintf("%d:%d:%v:%s", sym.Start, sym.End, sym.Class, sym.Canonical))
		}
		out = append(out, sum)
	}
	return out
}

func fromScratch(t *testing.T, text string) []itemSummary {
	t.Helper()
	h := newHarness(t, text, nil, Options{})
	h.s.Reanalyze()
	h.flush()
	return summarize(h.sctx)
}

// assertConsistent checks that every item matches the text it was
// registered for and that its symbols stay inside it.
func assertConsistent(t *testing.T, sctx *syntaxctx.Context) {
	t.Helper()
	for _, it := range sctx.Snapshot().Items {
		assert.Len(t, it.Text, it.Length, "item at %d", it.Start)
		for _, sym := range it.Symbols() {
			assert.LessOrEqual(t, sym.End, it.Length, "symbol %q of item at %d", sym.Name, it.Start)
		}
	}
}

type gatedRecognizer struct {
	inner   Recognizer
	block   func(text string) bool
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func newGatedRecognizer(block func(string) bool) *gatedRecognizer {
	return &gatedRecognizer{
		inner:   semantic.NewRecognizer(semantic.Options{}),
		block:   block,
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (g *gatedRecognizer) Recognize(ctx context.Context, text string, isCommand bool) *semantic.Model {
	if g.block(text) {
		g.once.Do(func() { close(g.started) })
		select {
		case <-g.gate:
		case <-ctx.Done():
		}
	}
	return g.inner.Recognize(ctx, text, isCommand)
}

type panicRecognizer struct {
	inner Recognizer
}

func (p panicRecognizer) Recognize(ctx context.Context, text string, isCommand bool) *semantic.Model {
	if strings.Contains(text, "boom") {
		panic("boom")
	}
	return p.inner.Recognize(ctx, text, isCommand)
}

const script = "SELECT a, b FROM t WHERE a = 'x;y';\n" +
	"-- note; here\n" +
	"SELECT * FROM u /* ; */ JOIN v ON u.id = v.id;\n" +
	"@set x = 1\n" +
	"SELECT ${x} FROM w"

func TestInitialAnalysis(t *testing.T) {
	h := newHarness(t, script, nil, Options{})
	h.s.Reanalyze()
	h.flush()

	items := h.sctx.Snapshot().Items
	require.Len(t, items, 4)
	assert.Equal(t, "SELECT a, b FROM t WHERE a = 'x;y';", items[0].Text)
	assert.True(t, items[0].EndsWithDelimiter)
	assert.True(t, items[2].IsCommand)
	assert.False(t, items[3].EndsWithDelimiter)
	assert.Equal(t, Idle, h.s.State())
	assert.Empty(t, h.s.Queued())
	assert.False(t, h.s.LastFinished().IsZero())
	assertConsistent(t, h.sctx)
}

func TestIdempotence(t *testing.T) {
	h := newHarness(t, script, nil, Options{})
	h.s.Reanalyze()
	h.flush()
	first := summarize(h.sctx)

	h.s.Reanalyze()
	h.flush()
	assert.Equal(t, first, summarize(h.sctx))
}

func TestDeltaEquivalenceTyping(t *testing.T) {
	h := newHarness(t, "", nil, Options{})
	h.s.Reanalyze()
	for i := 0; i < len(script); i++ {
		h.edit(i, 0, script[i:i+1])
		h.flush()
	}
	assert.Equal(t, fromScratch(t, script), summarize(h.sctx))
	assertConsistent(t, h.sctx)
}

// textEdit picks an edit for the current text.
type textEdit func(text string) (offset, removed int, inserted string)

func editSequence() []textEdit {
	return []textEdit{
		// drop the delimiter after the quoted string, merging two statements
		func(text string) (int, int, string) { return strings.Index(text, "y';") + 2, 1, "" },
		func(string) (int, int, string) { return 0, 0, "SELECT 0;\n" },
		// leave the block comment open
		func(text string) (int, int, string) { return strings.Index(text, "*/"), 2, "*" },
		func(text string) (int, int, string) { return strings.Index(text, "/* ; *") + 5, 1, "*/" },
		func(text string) (int, int, string) { return strings.Index(text, "FROM t"), 0, "AS z " },
		func(string) (int, int, string) { return 0, len("SELECT 0;\n"), "" },
		func(string) (int, int, string) { return 6, 0, "\n\n" },
		func(text string) (int, int, string) { return strings.Index(text, "FROM w"), 0, "; -- x\n" },
		func(text string) (int, int, string) { return strings.Index(text, "u /*"), 0, "'" },
		func(text string) (int, int, string) { return strings.Index(text, "'u /*"), 1, "" },
	}
}

func TestDeltaEquivalenceEdits(t *testing.T) {
	h := newHarness(t, script, nil, Options{})
	h.s.Reanalyze()
	h.flush()
	for i, next := range editSequence() {
		offset, removed, inserted := next(h.src.Text())
		require.GreaterOrEqual(t, offset, 0, "edit %d", i)
		h.edit(offset, removed, inserted)
		h.flush()
		assert.Equal(t, fromScratch(t, h.src.Text()), summarize(h.sctx), "after edit %d", i)
	}
}

func TestDeltaEquivalenceEditStorm(t *testing.T) {
	h := newHarness(t, script, nil, Options{})
	h.s.Reanalyze()
	h.flush()
	for _, next := range editSequence() {
		h.edit(next(h.src.Text()))
	}
	h.flush()
	assert.Equal(t, fromScratch(t, h.src.Text()), summarize(h.sctx))
	assertConsistent(t, h.sctx)
}

func TestCancellationLeavesConsistentItems(t *testing.T) {
	cancelledBefore := promtest.ToFloat64(jobsTotal.WithLabelValues(string(Cancelled)))
	cancellationsBefore := promtest.ToFloat64(cancellationsTotal)

	rec := newGatedRecognizer(func(text string) bool { return strings.Contains(text, "2") })
	h := newHarness(t, "SELECT 1;\nSELECT 2;\nSELECT 3;", rec, Options{})
	h.s.Reanalyze()
	<-rec.started
	assert.Equal(t, Running, h.s.State())

	h.edit(0, 0, "SELECT 0;\n")
	assertConsistent(t, h.sctx)

	close(rec.gate)
	h.flush()
	assertConsistent(t, h.sctx)
	assert.Equal(t, fromScratch(t, h.src.Text()), summarize(h.sctx))

	assert.GreaterOrEqual(t, promtest.ToFloat64(jobsTotal.WithLabelValues(string(Cancelled)))-cancelledBefore, 1.0)
	assert.GreaterOrEqual(t, promtest.ToFloat64(cancellationsTotal)-cancellationsBefore, 1.0)
}

func TestWaitForWaitsForNewerJob(t *testing.T) {
	rec := newGatedRecognizer(func(string) bool { return true })
	h := newHarness(t, "SELECT 1;", rec, Options{})
	h.s.Reanalyze()
	<-rec.started

	done := make(chan error, 1)
	go func() { done <- h.s.WaitFor(context.Background(), -1) }()

	assert.Never(t, func() bool { return len(done) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	close(rec.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitFor did not return")
	}
	assert.Equal(t, 1, h.sctx.Len())
}

func TestWaitForReturnsForCurrentOffset(t *testing.T) {
	text := "SELECT a FROM t;\nSELECT b FROM u;"
	h := newHarness(t, text, nil, Options{Delay: time.Hour})
	h.s.Reanalyze()
	h.flush()

	second := strings.Index(text, "b FROM")
	h.edit(second+1, 0, "x")
	assert.Equal(t, Scheduled, h.s.State())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, h.s.WaitFor(ctx, 3))
	assert.ErrorIs(t, h.s.WaitFor(ctx, second), context.DeadlineExceeded)

	h.flush()
	it, ok := h.sctx.FindScriptItem(second)
	require.True(t, ok)
	assert.Equal(t, "SELECT bx FROM u;", it.Text)
}

func TestFailingStatementIsSkipped(t *testing.T) {
	failuresBefore := promtest.ToFloat64(statementFailuresTotal)
	results := make(chan JobResult, 4)
	h := newHarness(t, "SELECT 1;\nSELECT boom;\nSELECT 3;",
		panicRecognizer{inner: semantic.NewRecognizer(semantic.Options{})},
		Options{OnJobDone: func(r JobResult) { results <- r }})
	h.s.Reanalyze()
	h.flush()

	res := <-results
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 2, res.Statements)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 2, h.sctx.Len())
	_, ok := h.sctx.FindScriptItem(strings.Index("SELECT 1;\nSELECT boom;", "boom"))
	assert.False(t, ok)
	assert.Equal(t, 1.0, promtest.ToFloat64(statementFailuresTotal)-failuresBefore)
}

func TestDebounce(t *testing.T) {
	h := newHarness(t, "SELECT 1", nil, Options{Delay: time.Hour, TriggerChars: "."})
	h.s.Reanalyze()
	h.flush()

	h.edit(8, 0, ";")
	assert.Equal(t, Scheduled, h.s.State())
	assert.NotEmpty(t, h.s.Queued())

	h.flush()
	assert.Empty(t, h.s.Queued())
	it, ok := h.sctx.FindScriptItem(0)
	require.True(t, ok)
	assert.True(t, it.EndsWithDelimiter)

	assert.True(t, h.s.isTrigger("t."))
	assert.False(t, h.s.isTrigger("t"))
	assert.False(t, h.s.isTrigger(""))
}

func TestViewport(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "SELECT %03d;\n", i)
	}
	h := newHarness(t, b.String(), nil, Options{ScreenMargin: 1})

	h.s.ViewportChanged(syntaxctx.Interval{Start: 600, End: 720})
	h.flush()
	assert.Equal(t, syntaxctx.Interval{Start: 480, End: 840}, h.sctx.Known())
	_, ok := h.sctx.FindScriptItem(600)
	assert.True(t, ok)
	_, ok = h.sctx.FindScriptItem(0)
	assert.False(t, ok)
	for _, it := range h.sctx.Snapshot().Items {
		assert.True(t, it.End() >= 480 && it.Start <= 840, "item at %d outside the analysed range", it.Start)
	}

	// Scrolling inside the known range needs no job.
	h.s.ViewportChanged(syntaxctx.Interval{Start: 500, End: 620})
	assert.Equal(t, Idle, h.s.State())

	h.s.ViewportChanged(syntaxctx.Interval{Start: 0, End: 120})
	h.flush()
	_, ok = h.sctx.FindScriptItem(0)
	assert.True(t, ok)
	_, ok = h.sctx.FindScriptItem(600)
	assert.False(t, ok)
}

func TestDocumentSwapped(t *testing.T) {
	h := newHarness(t, "SELECT 1;\nSELECT 2;", nil, Options{})
	h.s.Reanalyze()
	h.flush()
	require.Equal(t, 2, h.sctx.Len())

	h.src.set("SELECT 3")
	h.s.DocumentSwapped()
	h.flush()
	items := h.sctx.Snapshot().Items
	require.Len(t, items, 1)
	assert.Equal(t, "SELECT 3", items[0].Text)
}

func TestCloseWakesWaiters(t *testing.T) {
	rec := newGatedRecognizer(func(string) bool { return true })
	h := newHarness(t, "SELECT 1;", rec, Options{})
	h.s.Reanalyze()
	<-rec.started

	done := make(chan error, 1)
	go func() { done <- h.s.WaitFor(context.Background(), -1) }()
	h.s.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken")
	}
	assert.ErrorIs(t, h.s.Flush(context.Background()), ErrClosed)
}

var (
	tracerOnce sync.Once
	spans      *tracetest.InMemoryExporter
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	tracerOnce.Do(func() {
		spans = tracetest.NewInMemoryExporter()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans)))
	})
	spans.Reset()
	return spans
}

func TestMetricsAndSpans(t *testing.T) {
	exporter := setupTestTracer(t)
	completedBefore := promtest.ToFloat64(jobsTotal.WithLabelValues(string(Completed)))
	statementsBefore := promtest.ToFloat64(statementsTotal)

	h := newHarness(t, "SELECT 1;\nSELECT 2;", nil, Options{})
	h.s.Reanalyze()
	h.flush()

	assert.Equal(t, 1.0, promtest.ToFloat64(jobsTotal.WithLabelValues(string(Completed)))-completedBefore)
	assert.Equal(t, 2.0, promtest.ToFloat64(statementsTotal)-statementsBefore)

	names := map[string]int{}
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
	}
	assert.Equal(t, 1, names["sqlsense.analyze"])
	assert.Equal(t, 2, names["sqlsense.recognize"])
}

func TestRegionQueue(t *testing.T) {
	iv := func(s, e int) syntaxctx.Interval { return syntaxctx.Interval{Start: s, End: e} }

	q := newRegionQueue()
	q.add(iv(0, 5))
	q.add(iv(10, 15))
	q.add(iv(5, 10))
	assert.Equal(t, []syntaxctx.Interval{iv(0, 15)}, q.regions())

	q.remove(iv(3, 12))
	assert.Equal(t, []syntaxctx.Interval{iv(0, 3), iv(12, 15)}, q.regions())

	// Insert four bytes at 1: the first region stretches, the second moves.
	q.shift(1, 0, 4)
	assert.Equal(t, []syntaxctx.Interval{iv(0, 7), iv(16, 19)}, q.regions())
	assert.Equal(t, iv(2, 17), q.within(iv(2, 17)))
	assert.True(t, q.touches(7))
	assert.False(t, q.touches(10))

	q.clear()
	q.add(iv(10, 20))
	q.shift(12, 5, 0)
	assert.Equal(t, []syntaxctx.Interval{iv(10, 15)}, q.regions())

	q.clear()
	q.add(iv(14, 16))
	q.shift(12, 5, 0)
	assert.Equal(t, []syntaxctx.Interval{iv(12, 13)}, q.regions())
}

func TestSubtract(t *testing.T) {
	iv := func(s, e int) syntaxctx.Interval { return syntaxctx.Interval{Start: s, End: e} }
	assert.Equal(t, []syntaxctx.Interval{iv(0, 10)}, subtract(iv(0, 10), syntaxctx.Interval{}))
	assert.Equal(t, []syntaxctx.Interval{iv(0, 3), iv(7, 10)}, subtract(iv(0, 10), iv(3, 7)))
	assert.Nil(t, subtract(iv(3, 7), iv(0, 10)))
	assert.Equal(t, []syntaxctx.Interval{iv(5, 10)}, subtract(iv(0, 10), iv(0, 5)))
}
