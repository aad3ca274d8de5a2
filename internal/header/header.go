// Package header reads the settings block a script may start with.
//
// A header is a YAML document inside a /*--- ... ---*/ comment at the top of
// the script:
//
//	/*---
//	variables:
//	  schema: analytics
//	read_metadata: true
//	---*/
//	SELECT * FROM ${schema}.orders;
//
// The block stays part of the script text, so offsets reported for the script
// do not move when a header is added.
package header

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Header holds the settings declared by a script.
// Unknown fields cause parse errors.
type Header struct {
	Variables    map[string]string `yaml:"variables"`
	ReadMetadata *bool             `yaml:"read_metadata"`
	MaxProblems  *int              `yaml:"max_problems"`
	Line         int               `yaml:"-"` // line of the opening /*---, 1-based
}

// headerPattern matches a /*--- ... ---*/ block preceded only by whitespace.
var headerPattern = regexp.MustCompile(`(?s)^(\s*)/\*---\s*\n(.*?)\s*---\*/`)

var knownFields = map[string]bool{
	"variables":     true,
	"read_metadata": true,
	"max_problems":  true,
}

// Parse returns the header of script, or nil when it has none.
func Parse(script string) (*Header, error) {
	m := headerPattern.FindStringSubmatch(script)
	if m == nil {
		return nil, nil
	}
	line := strings.Count(m[1], "\n") + 1

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(m[2]), &raw); err != nil {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	for field := range raw {
		if !knownFields[field] {
			return nil, &UnknownFieldError{Line: line, Field: field}
		}
	}

	var h Header
	if err := yaml.Unmarshal([]byte(m[2]), &h); err != nil {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("failed to parse header: %v", err)}
	}
	if h.MaxProblems != nil && *h.MaxProblems < 0 {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("max_problems must not be negative, got %d", *h.MaxProblems)}
	}
	h.Line = line
	return &h, nil
}

// Merge returns vars extended with the header variables. Names already in
// vars keep their value. vars is not modified.
func (h *Header) Merge(vars map[string]string) map[string]string {
	if h == nil || len(h.Variables) == 0 {
		return vars
	}
	out := make(map[string]string, len(vars)+len(h.Variables))
	for name, value := range h.Variables {
		out[name] = value
	}
	for name, value := range vars {
		out[name] = value
	}
	return out
}

// ParseError reports a malformed header.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		if e.Line > 0 {
			return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError reports a header field this version does not know.
type UnknownFieldError struct {
	File  string
	Line  int
	Field string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q in script header", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, msg)
	}
	return msg
}
