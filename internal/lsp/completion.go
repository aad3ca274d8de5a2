package lsp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leapstack-labs/sqlsense/internal/completion"
)

func (s *Server) handleCompletion(ctx context.Context, msg *JSONRPCMessage) error {
	var params CompletionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err)
	}

	uri := params.TextDocument.URI
	sess, ok := s.session(msg, uri)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	offset := toOffset(sess.Document, params.Position)
	c, props, err := s.engine.Complete(ctx, uri, offset)
	if err != nil {
		return s.sendError(msg.ID, codeInternalError, fmt.Errorf("completing %s at %d: %w", uri, offset, err))
	}
	s.logger.Debug("completion", "uri", uri, "offset", offset, "mode", c.Mode.String(), "proposals", len(props))

	items := make([]CompletionItem, 0, len(props))
	for i, p := range props {
		items = append(items, CompletionItem{
			Label:  p.Label,
			Kind:   itemKind(p.Kind),
			Detail: p.Detail,
			// proposals arrive ranked
			SortText:   fmt.Sprintf("%05d", i),
			FilterText: p.Label,
			TextEdit: &TextEdit{
				Range:   toRange(sess.Document, p.ReplaceStart, p.ReplaceEnd),
				NewText: p.Insert,
			},
		})
	}

	s.sendResponse(msg.ID, CompletionList{Items: items}, nil)
	return nil
}

func itemKind(k completion.Kind) CompletionItemKind {
	switch k {
	case completion.KindStarExpansion:
		return CompletionItemKindSnippet
	case completion.KindColumn:
		return CompletionItemKindField
	case completion.KindSource:
		return CompletionItemKindVariable
	case completion.KindTable:
		return CompletionItemKindClass
	case completion.KindView:
		return CompletionItemKindStruct
	case completion.KindSchema:
		return CompletionItemKindModule
	case completion.KindCatalog:
		return CompletionItemKindFolder
	case completion.KindFunction:
		return CompletionItemKindFunction
	default:
		return CompletionItemKindKeyword
	}
}
