package semantic

import (
	"strings"
)

// Control commands have the form
//
//	@name arguments...
//	@@name arguments...
//
// where @ stands for the configured command marker.
// Arguments may reference variables as ${name} or :{name}. The symbols of a
// command tile its whole text: ranges that are neither the marker, the name
// nor a variable become unknown symbols.

func isCommandNameChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (r *Recognizer) recognizeCommand(text string) *Model {
	problems := newProblemCollector(r.opts.MaxProblems, len(text))
	var syms []*SymbolEntry
	add := func(start, end int, class SymbolClass, origin Origin) {
		name := text[start:end]
		syms = append(syms, &SymbolEntry{
			Start:     start,
			End:       end,
			Name:      name,
			Canonical: strings.ToLower(name),
			Class:     class,
			Origin:    origin,
		})
	}

	markerEnd := 0
	for markerEnd < 2 && markerEnd < len(text) && text[markerEnd] == r.opts.CommandMarker {
		markerEnd++
	}
	marker := text[:markerEnd]

	nameEnd := markerEnd
	for nameEnd < len(text) && isCommandNameChar(text[nameEnd]) {
		nameEnd++
	}
	name := strings.ToLower(text[markerEnd:nameEnd])
	if markerEnd > 0 {
		add(0, markerEnd, ClassCommand, CommandOrigin{Name: name, Marker: marker})
	}
	if nameEnd > markerEnd {
		add(markerEnd, nameEnd, ClassCommand, CommandOrigin{Name: name, Marker: marker})
	} else {
		problems.addf(markerEnd, markerEnd, SeverityError, "missing command name")
	}

	gap := nameEnd
	flushGap := func(upTo int) {
		if upTo > gap {
			add(gap, upTo, ClassUnknown, nil)
		}
	}
	for i := nameEnd; i+1 < len(text); {
		if (text[i] != '$' && text[i] != ':') || text[i+1] != '{' {
			i++
			continue
		}
		closeAt := strings.IndexByte(text[i+2:], '}')
		if closeAt < 0 {
			problems.addf(i, len(text), SeverityWarning, "unterminated variable reference")
			break
		}
		end := i + 2 + closeAt + 1
		flushGap(i)
		varName := strings.TrimSpace(text[i+2 : end-1])
		add(i, end, ClassVariable, r.resolveVariable(varName))
		gap = end
		i = end
	}
	flushGap(len(text))

	return &Model{
		Text:      text,
		IsCommand: true,
		Root:      &QueryNode{Start: 0, End: len(text)},
		Symbols:   syms,
		Problems:  problems.problems(),
	}
}
