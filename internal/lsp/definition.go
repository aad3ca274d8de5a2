package lsp

import "encoding/json"

// handleDefinition jumps from an alias reference to the alias declaration.
// Catalog objects have no location.
func (s *Server) handleDefinition(msg *JSONRPCMessage) error {
	var params DefinitionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, err)
	}

	uri := params.TextDocument.URI
	sess, ok := s.session(msg, uri)
	if !ok {
		return nil
	}

	item, sym, err := s.engine.SymbolAt(uri, toOffset(sess.Document, params.Position))
	if err != nil || sym == nil || sym.Definition == nil || sym.Definition.Symbol == nil {
		s.sendResponse(msg.ID, nil, nil)
		return nil
	}

	def := sym.Definition.Symbol
	s.sendResponse(msg.ID, &Location{
		URI:   uri,
		Range: toRange(sess.Document, item.Start+def.Start, item.Start+def.End),
	}, nil)
	return nil
}
