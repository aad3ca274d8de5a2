package lsp

import (
	"github.com/leapstack-labs/sqlsense/internal/semantic"
)

// publishDiagnostics sends the problems of every analysed statement of uri.
// It runs after each finished analysis job.
func (s *Server) publishDiagnostics(uri string) {
	sess, err := s.engine.Session(uri)
	if err != nil {
		return
	}
	problems, err := s.engine.Diagnostics(uri)
	if err != nil {
		return
	}

	doc := sess.Document
	diags := make([]Diagnostic, 0, len(problems))
	for _, p := range problems {
		sev := toSeverity(p.Severity)
		diags = append(diags, Diagnostic{
			Range:    toRange(doc, p.Start, p.End),
			Severity: sev,
			Source:   "sqlsense",
			Message:  p.Message,
		})
		s.metrics.diagnostics.WithLabelValues(p.Severity.String()).Inc()
	}

	version := doc.Version()
	s.sendNotification("textDocument/publishDiagnostics", &PublishDiagnosticsParams{
		URI:         uri,
		Version:     &version,
		Diagnostics: diags,
	})
}

func toSeverity(sev semantic.Severity) DiagnosticSeverity {
	switch sev {
	case semantic.SeverityError:
		return DiagnosticSeverityError
	case semantic.SeverityWarning:
		return DiagnosticSeverityWarning
	default:
		return DiagnosticSeverityInformation
	}
}
