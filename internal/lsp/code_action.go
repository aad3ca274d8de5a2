package lsp

import (
	"context"
	"encoding/json"

	"github.com/leapstack-labs/sqlsense/internal/completion"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
)

// handleCodeAction offers to replace a star under the cursor by the column
// list it stands for.
func (s *Server) handleCodeAction(ctx context.Context, msg *JSONRPCMessage) error {
	var params CodeActionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err)
	}

	uri := params.TextDocument.URI
	sess, ok := s.session(msg, uri)
	if !ok {
		return nil
	}

	actions := []CodeAction{}
	offset := toOffset(sess.Document, params.Range.Start)
	item, sym, err := s.engine.SymbolAt(uri, offset)
	if err != nil || sym == nil {
		s.sendResponse(msg.ID, actions, nil)
		return nil
	}
	if _, ok := sym.Origin.(semantic.ExpandableTupleRef); !ok {
		s.sendResponse(msg.ID, actions, nil)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, props, err := s.engine.Complete(ctx, uri, item.Start+sym.End)
	if err != nil {
		s.logger.Debug("star expansion failed", "uri", uri, "error", err)
		s.sendResponse(msg.ID, actions, nil)
		return nil
	}
	for _, p := range props {
		if p.Kind != completion.KindStarExpansion {
			continue
		}
		actions = append(actions, CodeAction{
			Title:       "Expand * to column list",
			Kind:        CodeActionKindRefactorRewrite,
			IsPreferred: true,
			Edit: &WorkspaceEdit{Changes: map[string][]TextEdit{
				uri: {{
					Range:   toRange(sess.Document, p.ReplaceStart, p.ReplaceEnd),
					NewText: p.Insert,
				}},
			}},
		})
		break
	}

	s.sendResponse(msg.ID, actions, nil)
	return nil
}
