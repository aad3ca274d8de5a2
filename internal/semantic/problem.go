package semantic

import "fmt"

// Severity of a Problem.
type Severity int

// Severities, most severe first.
const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// DefaultMaxProblems is the per-statement problem cap used when none is
// configured.
const DefaultMaxProblems = 20

// MsgTooManyProblems replaces every problem past the cap.
const MsgTooManyProblems = "too many errors"

// Problem is a diagnostic attached to a statement. Offsets are relative to
// the statement start.
type Problem struct {
	Start    int
	End      int
	Severity Severity
	Message  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s at %d: %s", p.Severity, p.Start, p.Message)
}

// problemCollector keeps at most max problems. The first problem past the
// cap becomes a single "too many errors" warning covering the rest of the
// statement.
type problemCollector struct {
	max      int
	textLen  int
	list     []Problem
	overflow bool
}

func newProblemCollector(limit, textLen int) *problemCollector {
	if limit <= 0 {
		limit = DefaultMaxProblems
	}
	return &problemCollector{max: limit, textLen: textLen}
}

func (c *problemCollector) add(p Problem) {
	switch {
	case len(c.list) < c.max:
		c.list = append(c.list, p)
	case !c.overflow:
		c.overflow = true
		c.list = append(c.list, Problem{
			Start:    p.Start,
			End:      c.textLen,
			Severity: SeverityWarning,
			Message:  MsgTooManyProblems,
		})
	}
}

func (c *problemCollector) addf(start, end int, sev Severity, format string, args ...any) {
	c.add(Problem{Start: start, End: end, Severity: sev, Message: fmt.Sprintf(format, args...)})
}

func (c *problemCollector) problems() []Problem {
	return c.list
}
