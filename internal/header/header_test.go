package header

import (
	"errors"
	"testing"
)

func TestParse_Basic(t *testing.T) {
	script := `/*---
variables:
  schema: analytics
  limit: 10
read_metadata: false
---*/

SELECT * FROM ${schema}.orders LIMIT ${limit}`

	h, err := Parse(script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == nil {
		t.Fatal("expected a header")
	}
	if h.Variables["schema"] != "analytics" {
		t.Errorf("expected schema 'analytics', got %q", h.Variables["schema"])
	}
	if h.Variables["limit"] != "10" {
		t.Errorf("expected limit '10', got %q", h.Variables["limit"])
	}
	if h.ReadMetadata == nil || *h.ReadMetadata {
		t.Errorf("expected read_metadata false, got %v", h.ReadMetadata)
	}
	if h.MaxProblems != nil {
		t.Errorf("expected no max_problems, got %d", *h.MaxProblems)
	}
	if h.Line != 1 {
		t.Errorf("expected line 1, got %d", h.Line)
	}
}

func TestParse_LeadingBlankLines(t *testing.T) {
	h, err := Parse("\n\n  /*---\nmax_problems: 3\n---*/\nSELECT 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Line != 3 {
		t.Errorf("expected line 3, got %d", h.Line)
	}
	if h.MaxProblems == nil || *h.MaxProblems != 3 {
		t.Errorf("expected max_problems 3, got %v", h.MaxProblems)
	}
}

func TestParse_NoHeader(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"plain", "SELECT 1"},
		{"empty", ""},
		{"ordinary comment", "/* not a header */\nSELECT 1"},
		{"header after sql", "SELECT 1;\n/*---\nvariables: {a: b}\n---*/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Parse(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h != nil {
				t.Errorf("expected no header, got %+v", h)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := Parse("/*---\nmaterialized: table\n---*/\nSELECT 1")
		var unknown *UnknownFieldError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected UnknownFieldError, got %v", err)
		}
		if unknown.Field != "materialized" {
			t.Errorf("expected field 'materialized', got %q", unknown.Field)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Parse("/*---\nvariables: [unclosed\n---*/")
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})

	t.Run("negative max_problems", func(t *testing.T) {
		_, err := Parse("/*---\nmax_problems: -1\n---*/")
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})
}

func TestMerge(t *testing.T) {
	h := &Header{Variables: map[string]string{"schema": "analytics", "limit": "10"}}
	vars := map[string]string{"schema": "main"}

	got := h.Merge(vars)
	if got["schema"] != "main" {
		t.Errorf("expected configured schema to win, got %q", got["schema"])
	}
	if got["limit"] != "10" {
		t.Errorf("expected limit '10', got %q", got["limit"])
	}
	if len(vars) != 1 {
		t.Errorf("Merge modified its argument: %v", vars)
	}

	var none *Header
	if got := none.Merge(vars); got["schema"] != "main" {
		t.Errorf("nil header should return vars unchanged, got %v", got)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ParseError{Message: "bad"}, "bad"},
		{&ParseError{File: "a.sql", Message: "bad"}, "a.sql: bad"},
		{&ParseError{File: "a.sql", Line: 2, Message: "bad"}, "a.sql:2: bad"},
		{&UnknownFieldError{Field: "x"}, `unknown field "x" in script header`},
		{&UnknownFieldError{File: "a.sql", Line: 1, Field: "x"}, `a.sql:1: unknown field "x" in script header`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
