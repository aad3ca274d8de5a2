package syntaxctx

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/internal/testutil"
)

// twoStatements registers "SELECT 1;" at 0 and "SELECT 2;" at 10.
func twoStatements(t *testing.T) *Context {
	t.Helper()
	c := New(Options{Logger: testutil.NewTestLogger(t)})
	c.RegisterScriptItemContext("SELECT 1;", &semantic.Model{Text: "SELECT 1;"}, 0, 9, true)
	c.RegisterScriptItemContext("SELECT 2;", &semantic.Model{Text: "SELECT 2;"}, 10, 9, true)
	require.Equal(t, 2, c.Len())
	return c
}

func starts(c *Context) []int {
	var out []int
	for _, it := range c.Snapshot().Items {
		out = append(out, it.Start)
	}
	return out
}

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		name             string
		offset, rem, ins int
		wantRegion       Interval
		wantStarts       []int
	}{
		{
			name:   "insert between statements shifts the next one",
			offset: 9, ins: 3,
			wantRegion: Interval{9, 12},
			wantStarts: []int{0, 13},
		},
		{
			name:   "insert inside a statement invalidates it",
			offset: 3, ins: 2,
			wantRegion: Interval{0, 11},
			wantStarts: []int{12},
		},
		{
			name:   "delete across both statements",
			offset: 5, rem: 7,
			wantRegion: Interval{0, 12},
			wantStarts: nil,
		},
		{
			name:   "delete before the second statement",
			offset: 9, rem: 1,
			wantRegion: Interval{9, 18},
			wantStarts: []int{0},
		},
		{
			name:   "edit after everything",
			offset: 30, ins: 1,
			wantRegion: Interval{30, 31},
			wantStarts: []int{0, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := twoStatements(t)
			region := c.ApplyDelta(tt.offset, tt.rem, tt.ins)
			assert.Equal(t, tt.wantRegion, region)
			assert.Equal(t, tt.wantStarts, starts(c))
		})
	}
}

func TestApplyDeltaTextDelimiter(t *testing.T) {
	c := twoStatements(t)
	region := c.ApplyDeltaText(9, "", "x;")
	assert.Equal(t, Interval{9, EndOfDocument}, region)

	it, ok := c.FindScriptItem(12)
	require.True(t, ok)
	assert.Equal(t, 12, it.Start)
	assert.True(t, it.Dirty)

	first, ok := c.FindScriptItem(0)
	require.True(t, ok)
	assert.False(t, first.Dirty)

	// Plain words leave boundaries alone.
	region = c.ApplyDeltaText(9, "", " ")
	assert.Equal(t, Interval{9, 10}, region)
}

func TestApplyDeltaTextBlankLines(t *testing.T) {
	c := New(Options{BlankLineDelimiter: true})
	c.RegisterScriptItemContext("SELECT 1", nil, 0, 8, false)
	region := c.ApplyDeltaText(8, "", "\n")
	assert.Equal(t, EndOfDocument, region.End)

	c = New(Options{})
	c.RegisterScriptItemContext("SELECT 1", nil, 0, 8, false)
	region = c.ApplyDeltaText(8, "", "\n")
	assert.Equal(t, Interval{0, 9}, region)
}

func TestOffsetShiftProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		c := New(Options{})
		// Items of length 5 every 10 bytes, delimited.
		for start := 0; start < 200; start += 10 {
			c.RegisterScriptItemContext("x;", nil, start, 5, true)
		}
		before := c.Snapshot().Items

		offset := rng.Intn(200)
		removed := rng.Intn(8)
		inserted := rng.Intn(8)
		c.ApplyDelta(offset, removed, inserted)
		after := map[int]bool{}
		for _, it := range c.Snapshot().Items {
			after[it.Start] = true
		}

		for _, it := range before {
			straddles := it.Start <= offset+removed && it.End() >= offset && !(it.End() == offset)
			switch {
			case straddles:
				assert.False(t, after[it.Start+inserted-removed] && it.Start >= offset,
					"round %d: straddling item %d survived", round, it.Start)
			case it.Start > offset+removed:
				assert.True(t, after[it.Start+inserted-removed],
					"round %d: item %d not shifted by %d", round, it.Start, inserted-removed)
			case it.End() < offset:
				assert.True(t, after[it.Start], "round %d: item %d moved", round, it.Start)
			}
		}
	}
}

func TestRegisterReplacesOverlapping(t *testing.T) {
	c := twoStatements(t)
	var changed []Interval
	unsubscribe := c.Subscribe(func(iv Interval) { changed = append(changed, iv) })

	it := c.RegisterScriptItemContext("SELECT 1; SELECT 2", nil, 5, 10, false)
	assert.Equal(t, 5, it.Start)
	assert.Equal(t, []int{5}, starts(c))
	assert.Equal(t, []Interval{{5, 15}}, changed)

	unsubscribe()
	c.RegisterScriptItemContext("x", nil, 40, 1, false)
	assert.Len(t, changed, 1)
}

func TestRegisterGenerations(t *testing.T) {
	c := New(Options{})
	a := c.RegisterScriptItemContext("a", nil, 0, 1, false)
	b := c.RegisterScriptItemContext("a", nil, 0, 1, false)
	assert.Greater(t, b.Generation, a.Generation)
}

func TestFindScriptItem(t *testing.T) {
	c := New(Options{})
	c.RegisterScriptItemContext("SELECT 1;", nil, 0, 9, true)
	c.RegisterScriptItemContext("SELECT * FROM t", nil, 10, 15, false)

	tests := []struct {
		offset int
		start  int
		ok     bool
	}{
		{0, 0, true},
		{8, 0, true},
		{9, 0, false}, // after the delimiter
		{10, 10, true},
		{25, 10, true}, // end of an undelimited statement
		{26, 0, false},
	}
	snap := c.Snapshot()
	for _, tt := range tests {
		it, ok := c.FindScriptItem(tt.offset)
		assert.Equal(t, tt.ok, ok, "offset %d", tt.offset)
		if ok {
			assert.Equal(t, tt.start, it.Start, "offset %d", tt.offset)
		}
		sit, sok := snap.Find(tt.offset)
		assert.Equal(t, ok, sok, "snapshot offset %d", tt.offset)
		assert.Equal(t, it, sit)
	}

	prev, ok := c.PreviousScriptItem(26)
	require.True(t, ok)
	assert.Equal(t, 10, prev.Start)
}

func TestDropInvisibleScriptItems(t *testing.T) {
	c := New(Options{})
	for start := 0; start < 100; start += 10 {
		c.RegisterScriptItemContext("x", nil, start, 5, true)
	}
	c.MarkKnown(Interval{0, 100})

	known := c.DropInvisibleScriptItems(Interval{40, 50}, 10)
	assert.Equal(t, Interval{30, 60}, known)
	assert.Equal(t, []int{30, 40, 50, 60}, starts(c))
	assert.Len(t, c.ItemsIn(Interval{42, 52}), 2)
}

func TestRestartOffset(t *testing.T) {
	c := New(Options{})
	c.RegisterScriptItemContext("a;", nil, 0, 2, true)
	c.RegisterScriptItemContext("b;", nil, 3, 2, true)
	c.RegisterScriptItemContext("c;", nil, 6, 2, true)

	assert.Equal(t, 3, c.RestartOffset(6))
	assert.Equal(t, 6, c.RestartOffset(9))
	assert.Equal(t, 0, c.RestartOffset(1))

	c.ApplyDeltaText(2, "", ";")
	assert.Equal(t, 0, c.RestartOffset(10))
}

func TestClear(t *testing.T) {
	c := twoStatements(t)
	c.MarkKnown(Interval{0, 19})
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Known().Empty())
}

func TestInterval(t *testing.T) {
	a := Interval{0, 10}
	assert.True(t, a.Contains(Interval{2, 5}))
	assert.True(t, a.Contains(Interval{}))
	assert.False(t, a.Contains(Interval{5, 11}))
	assert.True(t, a.Touches(Interval{10, 12}))
	assert.False(t, a.Overlaps(Interval{10, 12}))
	assert.Equal(t, Interval{0, 12}, a.Union(Interval{10, 12}))
	assert.Equal(t, Interval{5, 10}, a.Intersect(Interval{5, 20}))
	assert.True(t, a.Intersect(Interval{20, 30}).Empty())
	assert.Equal(t, Interval{3, 7}, Interval{3, EndOfDocument}.Clip(7))
	assert.Equal(t, "[3, end)", Interval{3, EndOfDocument}.String())
}

func TestDropStale(t *testing.T) {
	c := twoStatements(t)
	var changed []Interval
	unsubscribe := c.Subscribe(func(iv Interval) { changed = append(changed, iv) })
	defer unsubscribe()

	// only the first item is old enough
	assert.Equal(t, 1, c.DropStale(Interval{Start: 0, End: EndOfDocument}, 1))
	assert.Equal(t, []int{10}, starts(c))
	assert.Equal(t, []Interval{{Start: 0, End: EndOfDocument}}, changed)

	// nothing stale left: no notification
	assert.Equal(t, 0, c.DropStale(Interval{Start: 0, End: 5}, 10))
	assert.Len(t, changed, 1)
}

func TestMarkDirtyFrom(t *testing.T) {
	c := twoStatements(t)
	c.MarkDirtyFrom(5)

	items := c.Snapshot().Items
	require.Len(t, items, 2)
	assert.False(t, items[0].Dirty)
	assert.True(t, items[1].Dirty)
}

func TestSubscribeStopsAfterUnsubscribe(t *testing.T) {
	c := New(Options{})
	calls := 0
	unsubscribe := c.Subscribe(func(Interval) { calls++ })
	c.RegisterScriptItemContext("SELECT 1;", nil, 0, 9, true)
	assert.Equal(t, 1, calls)

	unsubscribe()
	c.Clear()
	assert.Equal(t, 1, calls)
}
