// Package taskfile loads and validates task documents.
package taskfile

import (
	"os"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/core/domain"
)

// Load reads and validates the task document at path. On schema violations
// it returns the full diagnostic list together with domain.ErrTaskInvalid;
// the document is never partially accepted.
func Load(path string) (*domain.Task, []Diagnostic, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // Path is provided by the operator
	if err != nil {
		return nil, nil, zerr.With(zerr.Wrap(err, domain.ErrTaskReadFailed.Error()), "path", path)
	}
	return Parse(raw)
}

// Parse validates raw task document bytes.
func Parse(raw []byte) (*domain.Task, []Diagnostic, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, nil, zerr.Wrap(err, domain.ErrTaskParseFailed.Error())
	}

	var doc taskDoc
	if err := root.Decode(&doc); err != nil {
		return nil, nil, zerr.Wrap(err, domain.ErrTaskParseFailed.Error())
	}

	diags := validate(&doc, &root)
	if len(diags) > 0 {
		return nil, diags, domain.Annotate(domain.ErrTaskInvalid, "violations", len(diags))
	}

	task := toDomain(&doc)
	task.ContentHash = domain.HashBytes(raw)
	return task, nil, nil
}

func toDomain(doc *taskDoc) *domain.Task {
	task := &domain.Task{
		ID:    doc.ID,
		Query: doc.Query,
		Mode:  domain.Mode(doc.Mode),
		Bundle: domain.BundleSpec{
			Strategy: doc.Bundle.Strategy,
			MaxChars: doc.Bundle.MaxChars,
		},
		Policy: domain.ProviderPolicy{
			Primary:  doc.Policy.Primary,
			Allowed:  doc.Policy.Allowed,
			Fallback: doc.Policy.Fallback,
		},
		Limits: domain.Limits{
			MaxRootIters:         doc.Limits.MaxRootIters,
			MaxSubcallsPerIter:   doc.Limits.MaxSubcallsPerIter,
			MaxSubcallsTotal:     doc.Limits.MaxSubcallsTotal,
			MaxStdoutChars:       doc.Limits.MaxStdoutChars,
			SubcallRetries:       doc.Limits.SubcallRetries,
			SubcallTimeoutMillis: doc.Limits.SubcallTimeoutMillis,
		},
		Outputs: domain.Outputs{FinalPath: doc.Outputs.FinalPath},
		Steps:   doc.Steps,
		Trace: domain.TraceConfig{
			Path:      doc.Trace.Path,
			Redaction: domain.RedactionMode(doc.Trace.Redaction),
		},
	}
	for _, s := range doc.Sources {
		task.Sources = append(task.Sources, domain.ContextSource{
			Type:    domain.SourceType(s.Type),
			Path:    s.Path,
			Include: s.Include,
			Exclude: s.Exclude,
		})
	}
	for _, a := range doc.Outputs.Aux {
		task.Outputs.Aux = append(task.Outputs.Aux, domain.AuxArtifact{
			Kind: domain.AuxArtifactKind(a.Kind),
			Path: a.Path,
		})
	}
	return task
}
