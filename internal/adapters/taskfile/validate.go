package taskfile

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/core/domain"
)

// Diagnostic describes one schema violation with a field path and the line
// the offending (or missing) field was declared on.
type Diagnostic struct {
	Field   string `json:"field"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s (line %d): %s", d.Field, d.Line, d.Message)
}

type validator struct {
	root  *yaml.Node
	diags []Diagnostic
}

// validate checks the whole document and collects every violation. A single
// violation fails the document; callers never see a partially valid task.
func validate(doc *taskDoc, root *yaml.Node) []Diagnostic {
	v := &validator{root: root}

	v.requireString("id", doc.ID)
	v.requireString("query", doc.Query)

	switch domain.Mode(doc.Mode) {
	case domain.ModeBaseline, domain.ModeSubcalls:
	default:
		v.add("mode", fmt.Sprintf("must be %q or %q, got %q", domain.ModeBaseline, domain.ModeSubcalls, doc.Mode))
	}

	if len(doc.Sources) == 0 {
		v.add("sources", "at least one context source is required")
	}
	for i, s := range doc.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		switch domain.SourceType(s.Type) {
		case domain.SourceFile, domain.SourceDir, domain.SourceSnapshot:
		case "":
			v.add(field+".type", "type is required")
		default:
			v.add(field+".type", fmt.Sprintf("unknown source type %q", s.Type))
		}
		if s.Path == "" {
			v.add(field+".path", "path is required")
		}
	}

	v.requireString("bundle.strategy", doc.Bundle.Strategy)
	if doc.Bundle.MaxChars < 1 {
		v.add("bundle.max_chars", "must be a positive integer")
	}

	v.validateLimits(doc)
	if domain.Mode(doc.Mode) == domain.ModeSubcalls || len(doc.Policy.Allowed) > 0 {
		v.validatePolicy(doc)
	}

	v.requireString("outputs.final_path", doc.Outputs.FinalPath)
	for i, a := range doc.Outputs.Aux {
		field := fmt.Sprintf("outputs.aux[%d]", i)
		switch domain.AuxArtifactKind(a.Kind) {
		case domain.AuxMemory, domain.AuxEvents:
		default:
			v.add(field+".kind", fmt.Sprintf("unknown auxiliary artifact kind %q", a.Kind))
		}
		if a.Path == "" {
			v.add(field+".path", "path is required")
		}
	}

	for i, s := range doc.Steps {
		if strings.TrimSpace(s) == "" {
			v.add(fmt.Sprintf("steps[%d]", i), "step code must not be empty")
		}
	}

	v.requireString("trace.path", doc.Trace.Path)
	switch domain.RedactionMode(doc.Trace.Redaction) {
	case domain.RedactNone, domain.RedactHashes:
	case "":
		v.add("trace.redaction", "redaction mode is required")
	default:
		v.add("trace.redaction", fmt.Sprintf("unknown redaction mode %q", doc.Trace.Redaction))
	}

	return v.diags
}

func (v *validator) validateLimits(doc *taskDoc) {
	l := doc.Limits
	if l.MaxRootIters < 1 {
		v.add("limits.max_root_iters", "must be at least 1")
	}
	if l.MaxStdoutChars < 1 {
		v.add("limits.max_stdout_chars", "must be at least 1")
	}
	if l.MaxSubcallsPerIter < 0 {
		v.add("limits.max_subcalls_per_iter", "must not be negative")
	}
	if l.MaxSubcallsTotal < 0 {
		v.add("limits.max_subcalls_total", "must not be negative")
	}
	if l.SubcallTimeoutMillis < 0 {
		v.add("limits.subcall_timeout_ms", "must not be negative")
	}
	if domain.Mode(doc.Mode) == domain.ModeSubcalls && l.SubcallRetries < 1 {
		v.add("limits.subcall_retries", "must be at least 1 in subcalls mode")
	}
}

func (v *validator) validatePolicy(doc *taskDoc) {
	p := doc.Policy
	if len(p.Allowed) == 0 {
		v.add("policy.allowed", "allowed provider set must not be empty")
		return
	}
	allowed := make(map[string]bool, len(p.Allowed))
	for _, a := range p.Allowed {
		allowed[a] = true
	}
	if p.Primary == "" {
		v.add("policy.primary", "primary provider is required")
	} else if !allowed[p.Primary] {
		v.add("policy.primary", fmt.Sprintf("primary %q is not in the allowed set", p.Primary))
	}
	for i, f := range p.Fallback {
		if !allowed[f] {
			v.add(fmt.Sprintf("policy.fallback[%d]", i), fmt.Sprintf("fallback %q is not in the allowed set", f))
		}
	}
}

func (v *validator) requireString(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "field is required")
	}
}

func (v *validator) add(field, message string) {
	v.diags = append(v.diags, Diagnostic{
		Field:   field,
		Line:    lineOf(v.root, field),
		Message: message,
	})
}

// lineOf resolves a dotted field path (with optional [i] indexes) to the
// line of the closest node present in the document. Missing leaves fall back
// to their nearest existing ancestor, so "limits.max_root_iters" points at
// the limits block when the field itself is absent.
func lineOf(root *yaml.Node, field string) int {
	node := root
	if node != nil && node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node == nil {
		return 0
	}
	line := node.Line
	for _, seg := range strings.Split(field, ".") {
		key, idx := splitIndex(seg)
		child := mappingValue(node, key)
		if child == nil {
			return line
		}
		line = child.Line
		node = child
		if idx >= 0 {
			if node.Kind != yaml.SequenceNode || idx >= len(node.Content) {
				return line
			}
			node = node.Content[idx]
			line = node.Line
		}
	}
	return line
}

func splitIndex(seg string) (string, int) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, -1
	}
	idx := 0
	if _, err := fmt.Sscanf(seg[open:], "[%d]", &idx); err != nil {
		return seg, -1
	}
	return seg[:open], idx
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
