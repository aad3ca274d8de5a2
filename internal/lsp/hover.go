package lsp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlsense/internal/semantic"
)

func (s *Server) handleHover(msg *JSONRPCMessage) error {
	var params HoverParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err)
	}

	uri := params.TextDocument.URI
	sess, ok := s.session(msg, uri)
	if !ok {
		return nil
	}

	offset := toOffset(sess.Document, params.Position)
	item, sym, err := s.engine.SymbolAt(uri, offset)
	if err != nil || sym == nil || sym.Class == semantic.ClassKeyword {
		s.sendResponse(msg.ID, nil, nil)
		return nil
	}

	rng := toRange(sess.Document, item.Start+sym.Start, item.Start+sym.End)
	s.sendResponse(msg.ID, &Hover{
		Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: describeSymbol(sym)},
		Range:    &rng,
	}, nil)
	return nil
}

// describeSymbol renders a symbol as markdown: its class and name, then
// what it resolved to.
func describeSymbol(sym *semantic.SymbolEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`", sym.Class, sym.Name)

	if def := sym.Definition; def != nil {
		switch {
		case def.Column != nil:
			col := def.Column
			b.WriteString("\n\n")
			if col.Table != nil {
				fmt.Fprintf(&b, "`%s.%s`", col.Table.QualifiedName(), col.Name)
			} else {
				fmt.Fprintf(&b, "`%s`", col.Name)
			}
			if col.Type != "" {
				fmt.Fprintf(&b, " %s", col.Type)
			}
			if !col.Nullable {
				b.WriteString(" not null")
			}
		case def.Object != nil:
			fmt.Fprintf(&b, "\n\n%s `%s`", def.Object.Kind, def.Object.QualifiedName())
			if def.Object.Comment != "" {
				fmt.Fprintf(&b, "\n\n%s", def.Object.Comment)
			}
		case def.Symbol != nil:
			fmt.Fprintf(&b, "\n\ndefined as %s `%s`", def.Symbol.Class, def.Symbol.Name)
		}
	}

	switch o := sym.Origin.(type) {
	case semantic.VariableOrigin:
		if o.Resolved {
			fmt.Fprintf(&b, "\n\nvalue: `%s`", o.Value)
		} else {
			b.WriteString("\n\nunresolved variable")
		}
	case semantic.ExpandableTupleRef:
		b.WriteString("\n\nexpandable")
	case semantic.PotentialObject:
		b.WriteString("\n\nnot found in the catalog")
	}
	return b.String()
}
