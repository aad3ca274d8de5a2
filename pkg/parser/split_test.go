package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts SplitOptions
		want []Bounds
	}{
		{
			name: "delimited statements and command",
			text: "SELECT 1; SELECT 2;\n@set x = 1\nSELECT 3",
			want: []Bounds{
				{Start: 0, End: 9, EndsWithDelimiter: true},
				{Start: 10, End: 19, EndsWithDelimiter: true},
				{Start: 20, End: 30, IsCommand: true},
				{Start: 31, End: 39},
			},
		},
		{
			name: "empty statements are skipped",
			text: ";; SELECT 1;;",
			want: []Bounds{{Start: 3, End: 12, EndsWithDelimiter: true}},
		},
		{
			name: "comment between statements belongs to neither",
			text: "SELECT 1; -- x\nSELECT 2",
			want: []Bounds{
				{Start: 0, End: 9, EndsWithDelimiter: true},
				{Start: 15, End: 23},
			},
		},
		{
			name: "delimiter inside string",
			text: "SELECT ';'; SELECT 2",
			want: []Bounds{
				{Start: 0, End: 11, EndsWithDelimiter: true},
				{Start: 12, End: 20},
			},
		},
		{
			name: "blank line ignored by default",
			text: "SELECT 1\n\nSELECT 2",
			want: []Bounds{{Start: 0, End: 18}},
		},
		{
			name: "blank line delimiter",
			text: "SELECT 1\n\nSELECT 2",
			opts: SplitOptions{BlankLineDelimiter: true},
			want: []Bounds{{Start: 0, End: 8}, {Start: 10, End: 18}},
		},
		{
			name: "blank line inside block comment",
			text: "SELECT 1 /*\n\n*/ + 2",
			opts: SplitOptions{BlankLineDelimiter: true},
			want: []Bounds{{Start: 0, End: 19}},
		},
		{
			name: "marker mid-line is not a command",
			text: "SELECT @x",
			want: []Bounds{{Start: 0, End: 9}},
		},
		{
			name: "empty script",
			text: "  -- nothing\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.text, tt.opts))
		})
	}
}

func TestCovering(t *testing.T) {
	text := "SELECT 1; SELECT 2; SELECT 3;"

	got := Covering(text, 0, 12, 12, SplitOptions{})
	assert.Equal(t, []Bounds{{Start: 10, End: 19, EndsWithDelimiter: true}}, got)

	got = Covering(text, 0, 12, 25, SplitOptions{})
	assert.Equal(t, []Bounds{
		{Start: 10, End: 19, EndsWithDelimiter: true},
		{Start: 20, End: 29, EndsWithDelimiter: true},
	}, got)

	// Restarting from a later statement start gives the same answer.
	got = Covering(text, 10, 12, 25, SplitOptions{})
	assert.Len(t, got, 2)

	// A restart past the region falls back to the beginning.
	got = Covering(text, 20, 3, 3, SplitOptions{})
	assert.Equal(t, []Bounds{{Start: 0, End: 9, EndsWithDelimiter: true}}, got)
}

func TestBounds_Overlaps(t *testing.T) {
	b := Bounds{Start: 10, End: 20}
	assert.True(t, b.Overlaps(20, 20))
	assert.True(t, b.Overlaps(0, 10))
	assert.False(t, b.Overlaps(21, 30))
	assert.Equal(t, 10, b.Len())
}
