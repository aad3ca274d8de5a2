// Package scheduler runs the background analysis of one document. Edits are
// recorded synchronously; the analysis itself runs on a single worker after a
// debounce delay and is cancelled by the next edit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
)

// ErrClosed is returned by waits on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// Source supplies the document text. Text must reflect every change for
// which AfterChange has been called, and none for which only BeforeChange
// has.
type Source interface {
	Text() string
}

// Recognizer analyses one statement.
type Recognizer interface {
	Recognize(ctx context.Context, text string, isCommand bool) *semantic.Model
}

// State is the scheduler's position in its Idle, Scheduled, Running cycle.
type State int

const (
	Idle State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is how a job ended.
type Outcome string

const (
	Completed Outcome = "completed"
	Cancelled Outcome = "cancelled"
	// Empty jobs found nothing queued inside the visible range.
	Empty Outcome = "empty"
)

// JobResult describes a finished job.
type JobResult struct {
	Generation uint64
	Outcome    Outcome
	// Region is the queued range the job analysed, before widening to
	// statement boundaries.
	Region     syntaxctx.Interval
	Statements int
	Failures   int
	Duration   time.Duration
}

// Options configures a Scheduler.
type Options struct {
	// Delay is the debounce delay after an edit. Zero analyses right away.
	Delay time.Duration
	// ScreenMargin is how many visible-range lengths are kept analysed on
	// each side of the visible range.
	ScreenMargin int
	// TriggerChars halve the delay when typed last, since a completion
	// request usually follows them.
	TriggerChars string
	Split        parser.SplitOptions
	// OnJobDone is called after every job that was not cancelled, without
	// any lock held.
	OnJobDone func(JobResult)
	Logger    *slog.Logger
}

// Scheduler keeps a syntaxctx.Context up to date with a document.
type Scheduler struct {
	src    Source
	sctx   *syntaxctx.Context
	rec    Recognizer
	opts   Options
	logger *slog.Logger

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// mu guards everything below together with every mutation of sctx made
	// by the scheduler.
	mu       sync.Mutex
	state    State
	queue    *regionQueue
	timer    *time.Timer
	timerSeq uint64
	cancel   context.CancelFunc
	inflight bool
	pending  bool
	editing  bool
	closed   bool

	visible     syntaxctx.Interval
	hasViewport bool
	inserted    string

	// requested counts the changes asking for analysis; completed is the
	// value of requested when the last finished job started.
	requested uint64
	completed uint64
	progress  chan struct{}
	finished  time.Time
}

// New returns a scheduler analysing src into sctx. Nothing runs until the
// first change, viewport or Reanalyze call.
func New(src Source, sctx *syntaxctx.Context, rec Recognizer, opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		src:        src,
		sctx:       sctx,
		rec:        rec,
		opts:       opts,
		logger:     logger,
		base:       base,
		baseCancel: cancel,
		queue:      newRegionQueue(),
		progress:   make(chan struct{}),
	}
}

// BeforeChange records an edit replacing removedText at offset with
// insertedText. It must be called before the source applies the edit.
func (s *Scheduler) BeforeChange(offset int, removedText, insertedText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.editing = true
	s.pending = false
	s.stopTimerLocked()
	s.cancelLocked()

	old := s.src.Text()
	newLen := len(old) - len(removedText) + len(insertedText)
	region := s.sctx.ApplyDeltaText(offset, removedText, insertedText)
	if region.End != syntaxctx.EndOfDocument && s.joinsTokens(old, offset, len(removedText)) {
		s.sctx.MarkDirtyFrom(offset + len(insertedText))
		region.End = syntaxctx.EndOfDocument
	}
	s.queue.shift(offset, len(removedText), len(insertedText))
	if region.End > newLen {
		region.End = max(newLen, region.Start+1)
	}
	s.queue.add(region)
	s.requested++
	s.inserted = insertedText
	s.logger.Debug("change recorded", "offset", offset, "removed", len(removedText),
		"inserted", len(insertedText), "region", region.String())
}

// joinsTokens reports whether the characters around an edit could combine
// into a quote, comment or delimiter once the edit is applied.
func (s *Scheduler) joinsTokens(old string, offset, removed int) bool {
	var around []byte
	if offset > 0 && offset <= len(old) {
		around = append(around, old[offset-1])
	}
	if end := offset + removed; end < len(old) {
		around = append(around, old[end])
	}
	return s.sctx.AffectsBoundaries(string(around))
}

// AfterChange schedules analysis of the edit recorded by BeforeChange.
func (s *Scheduler) AfterChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.editing = false
	if !s.inflight {
		s.pending = false
	}
	delay := s.opts.Delay
	if s.isTrigger(s.inserted) {
		delay /= 2
	}
	if s.inflight {
		delay *= 2
	}
	s.scheduleLocked(delay)
}

func (s *Scheduler) isTrigger(inserted string) bool {
	if inserted == "" || s.opts.TriggerChars == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(inserted)
	return strings.ContainsRune(s.opts.TriggerChars, r)
}

// ViewportChanged sets the visible range. Unknown parts of it are analysed
// without delay.
func (s *Scheduler) ViewportChanged(visible syntaxctx.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.visible = visible
	s.hasViewport = true

	v := s.visibleLocked(len(s.src.Text()))
	known := s.sctx.Known()
	if v.Empty() || known.Contains(v) {
		return
	}
	for _, iv := range subtract(v, known) {
		s.queue.add(iv)
	}
	s.requested++
	s.scheduleLocked(0)
}

// DocumentSwapped discards every result and analyses the new text from
// scratch.
func (s *Scheduler) DocumentSwapped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopTimerLocked()
	s.cancelLocked()
	s.sctx.Clear()
	s.queue.clear()
	s.queue.add(syntaxctx.Interval{Start: 0, End: max(len(s.src.Text()), 1)})
	s.requested++
	s.scheduleLocked(0)
}

// Reanalyze queues the whole document while keeping the current results
// visible until they are replaced. It is used when metadata changes.
func (s *Scheduler) Reanalyze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue.add(syntaxctx.Interval{Start: 0, End: max(len(s.src.Text()), 1)})
	s.requested++
	s.scheduleLocked(0)
}

// WaitFor blocks until the results at offset reflect every change made
// before the call. It returns at once when offset lies in an analysed range
// with nothing queued. A negative offset waits for the latest job.
func (s *Scheduler) WaitFor(ctx context.Context, offset int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	target := s.requested
	if offset >= 0 && s.currentAt(offset) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.waitGeneration(ctx, target)
}

func (s *Scheduler) currentAt(offset int) bool {
	if s.completed >= s.requested {
		return true
	}
	known := s.sctx.Known()
	return !s.queue.touches(offset) && known.Start <= offset && offset <= known.End && !known.Empty()
}

// Flush starts any scheduled job right away and waits for it.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.timer != nil || (!s.inflight && !s.editing && s.completed < s.requested) {
		s.scheduleLocked(0)
	}
	target := s.requested
	s.mu.Unlock()
	return s.waitGeneration(ctx, target)
}

func (s *Scheduler) waitGeneration(ctx context.Context, target uint64) error {
	for {
		s.mu.Lock()
		if s.completed >= target {
			s.mu.Unlock()
			return nil
		}
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		ch := s.progress
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastFinished returns when the last job that was not cancelled ended.
func (s *Scheduler) LastFinished() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Queued returns the regions waiting for analysis.
func (s *Scheduler) Queued() []syntaxctx.Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.regions()
}

// Close cancels any running job, waits for it and wakes every waiter.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.cancelLocked()
	s.baseCancel()
	s.state = Idle
	close(s.progress)
	s.progress = make(chan struct{})
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

func (s *Scheduler) cancelLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.state = Scheduled
	cancellationsTotal.Inc()
	s.logger.Debug("analysis cancelled")
}

func (s *Scheduler) scheduleLocked(delay time.Duration) {
	s.stopTimerLocked()
	if s.state != Running {
		s.state = Scheduled
	}
	if delay <= 0 {
		s.startLocked()
		return
	}
	seq := s.timerSeq
	s.timer = time.AfterFunc(delay, func() { s.fire(seq) })
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.timerSeq {
		return
	}
	s.timer = nil
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.closed {
		return
	}
	if s.inflight || s.editing {
		s.pending = true
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.inflight = true
	s.pending = false
	s.state = Running
	gen := s.requested
	s.wg.Add(1)
	go s.run(ctx, cancel, gen)
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer s.wg.Done()
	defer cancel()

	began := time.Now()
	ctx, span := tracer.Start(ctx, "sqlsense.analyze",
		trace.WithAttributes(attribute.Int64("sqlsense.generation", int64(gen))))
	res := s.job(ctx)
	res.Generation = gen
	res.Duration = time.Since(began)
	span.SetAttributes(
		attribute.String("sqlsense.outcome", string(res.Outcome)),
		attribute.Int("sqlsense.statements", res.Statements),
		attribute.Int("sqlsense.failures", res.Failures),
	)
	span.End()
	jobsTotal.WithLabelValues(string(res.Outcome)).Inc()
	jobDuration.Observe(res.Duration.Seconds())

	s.mu.Lock()
	s.inflight = false
	s.cancel = nil
	if res.Outcome != Cancelled {
		s.completed = max(s.completed, gen)
		s.finished = time.Now()
		close(s.progress)
		s.progress = make(chan struct{})
	}
	switch {
	case s.closed:
		s.state = Idle
	case s.pending && !s.editing:
		s.startLocked()
	case s.timer != nil || s.editing || s.pending:
		s.state = Scheduled
	default:
		s.state = Idle
	}
	s.mu.Unlock()

	if res.Outcome == Cancelled {
		s.logger.Debug("analysis job cancelled", "generation", gen)
		return
	}
	s.logger.Debug("analysis job finished", "generation", gen, "outcome", string(res.Outcome),
		"statements", res.Statements, "duration", res.Duration)
	if s.opts.OnJobDone != nil {
		s.opts.OnJobDone(res)
	}
}

// visibleLocked returns the visible range clipped to a text of length n.
// Without a viewport the whole text is visible.
func (s *Scheduler) visibleLocked(n int) syntaxctx.Interval {
	if !s.hasViewport {
		return syntaxctx.Interval{Start: 0, End: n}
	}
	v := s.visible.Clip(n)
	if v.Empty() && n > 0 {
		v = syntaxctx.Interval{Start: max(0, n-max(s.visible.Len(), 1)), End: n}
	}
	return v
}

func (s *Scheduler) job(ctx context.Context) JobResult {
	s.mu.Lock()
	text := s.src.Text()
	visible := s.visibleLocked(len(text))
	margin := s.opts.ScreenMargin * max(visible.Len(), 1)
	s.sctx.DropInvisibleScriptItems(visible, margin)
	expanded := syntaxctx.Interval{Start: visible.Start - margin, End: visible.End + margin}.Clip(len(text))
	for _, iv := range subtract(expanded, s.sctx.Known()) {
		s.queue.add(iv)
	}
	region := s.queue.within(expanded)
	restart := s.sctx.RestartOffset(region.Start)
	before := s.sctx.Generation()
	s.mu.Unlock()

	res := JobResult{Region: region}
	if region.Empty() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			return res
		}
		s.sctx.MarkKnown(expanded)
		res.Outcome = Empty
		return res
	}

	bounds := parser.Covering(text, restart, region.Start, region.End, s.opts.Split)
	for _, b := range bounds {
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			return res
		}
		model, err := s.analyze(ctx, text, b)
		if err != nil {
			res.Failures++
			statementFailuresTotal.Inc()
			s.logger.Warn("statement analysis failed", "offset", b.Start, "error", err)
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			res.Outcome = Cancelled
			return res
		}
		s.sctx.RegisterScriptItemContext(text[b.Start:b.End], model, b.Start, b.Len(), b.EndsWithDelimiter)
		s.mu.Unlock()
		res.Statements++
		statementsTotal.Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		res.Outcome = Cancelled
		return res
	}
	covered := region
	for _, b := range bounds {
		covered = covered.Union(syntaxctx.Interval{Start: b.Start, End: b.End})
	}
	// Items left between the new statements no longer match any statement.
	cursor := covered.Start
	for _, b := range bounds {
		s.sctx.DropStale(syntaxctx.Interval{Start: cursor, End: b.Start}, before)
		cursor = max(cursor, b.End)
	}
	s.sctx.DropStale(syntaxctx.Interval{Start: cursor, End: covered.End}, before)

	s.queue.remove(covered)
	s.sctx.MarkKnown(expanded)
	res.Outcome = Completed
	return res
}

func (s *Scheduler) analyze(ctx context.Context, text string, b parser.Bounds) (model *semantic.Model, err error) {
	ctx, span := tracer.Start(ctx, "sqlsense.recognize", trace.WithAttributes(
		attribute.Int("sqlsense.offset", b.Start),
		attribute.Bool("sqlsense.command", b.IsCommand),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "statement analysis failed")
		}
	}()

	model = s.rec.Recognize(ctx, text[b.Start:b.End], b.IsCommand)
	if model == nil {
		return nil, errors.New("recognizer returned no model")
	}
	return model, nil
}

// subtract returns the parts of a not covered by b.
func subtract(a, b syntaxctx.Interval) []syntaxctx.Interval {
	if a.Empty() {
		return nil
	}
	if !a.Overlaps(b) {
		return []syntaxctx.Interval{a}
	}
	var out []syntaxctx.Interval
	if a.Start < b.Start {
		out = append(out, syntaxctx.Interval{Start: a.Start, End: b.Start})
	}
	if a.End > b.End {
		out = append(out, syntaxctx.Interval{Start: b.End, End: a.End})
	}
	return out
}
