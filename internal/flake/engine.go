package flake

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Status int

const (
	StatusConverted Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConverted:
		return "converted"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Outcome is what happened to one input during ConvertAll or EjectAll.
type Outcome struct {
	Input  string
	Status Status
	Reason SkipReason // set when Status is StatusSkipped
	Detail string
	From   string
	To     string
}

// Report lists one Outcome per input, in declaration order.
type Report struct {
	Outcomes []Outcome
	Warnings []Warning
	Edits    []Edit
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Changed reports whether applying the report rewrites anything.
func (r *Report) Changed() bool {
	return len(r.Edits) > 0
}

// ConvertAll rewrites every forge input with a registry counterpart into a
// registry URL. Inputs are handled independently; only conflicting edits
// abort, in which case src is returned unchanged.
func ConvertAll(g *Graph, src string, lookup Lookup) (string, *Report, error) {
	report := &Report{Warnings: append([]Warning(nil), g.Warnings...)}
	for _, in := range g.Inputs {
		target, warnings, err := toRegistry(in, lookup)
		report.Warnings = append(report.Warnings, warnings...)
		report.record(in, target, err)
	}
	return report.apply(src)
}

// EjectAll is the inverse of ConvertAll: registry inputs become forge
// shorthands.
func EjectAll(g *Graph, src string, lookup ReverseLookup) (string, *Report, error) {
	report := &Report{Warnings: append([]Warning(nil), g.Warnings...)}
	for _, in := range g.Inputs {
		target, err := toVcs(in, lookup)
		report.record(in, target, err)
	}
	return report.apply(src)
}

func (r *Report) record(in *InputSpec, target Locator, err error) {
	outcome := Outcome{Input: in.Name}
	switch {
	case in.Follows:
		outcome.From = "follows " + in.FollowsTarget
	case in.Locator != nil:
		outcome.From = in.Locator.String()
	}

	var skipped *SkipError
	switch {
	case errors.As(err, &skipped):
		outcome.Status = StatusSkipped
		outcome.Reason = skipped.Reason
		outcome.Detail = skipped.Detail
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Detail = err.Error()
	default:
		outcome.Status = StatusConverted
		outcome.To = target.String()
		r.Edits = append(r.Edits, rewriteEdit(in, target))
	}
	r.Outcomes = append(r.Outcomes, outcome)
}

func (r *Report) apply(src string) (string, *Report, error) {
	out, err := Apply(src, r.Edits)
	if err != nil {
		return src, r, err
	}
	return out, r, nil
}

var inputNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_'-]*$`)

// AddInput declares a new input called name pointing at locator and adds
// it to the outputs function's arguments. When resolved is set and the
// locator is a registry URL, its version is replaced by resolved.
//
// The declaration goes next to the existing ones: into the first
// `inputs = { ... }` block, before the first `inputs.x...` binding, or,
// with no inputs at all, right above outputs.
func AddInput(g *Graph, src, name, locator string, resolved *Constraint) (string, error) {
	if !inputNameRegex.MatchString(name) || keywordNames[name] {
		return "", fmt.Errorf("%w: %q", ErrInvalidInputName, name)
	}
	if _, exists := g.Input(name); exists {
		return "", &NameCollisionError{Name: name}
	}
	if g.anchors.outputs == nil {
		return "", ErrNoOutputs
	}

	loc := Classify(locator)
	if ref, ok := loc.(RegistryRef); ok && resolved != nil {
		ref.Constraint = *resolved
		locator = ref.String()
	}

	edits := []Edit{declarationEdit(g, src, name, locator)}
	if edit, ok := OutputsParamEdit(g, name); ok {
		edits = append(edits, edit)
	}
	return Apply(src, edits)
}

var keywordNames = map[string]bool{
	"let": true, "in": true, "with": true, "assert": true, "rec": true,
	"if": true, "then": true, "else": true, "inherit": true, "or": true,
}

func declarationEdit(g *Graph, src, name, locator string) Edit {
	assignment := fmt.Sprintf("%s.url = %s;", name, quote(locator))
	reason := fmt.Sprintf("declare input %s = %s", name, locator)
	a := g.anchors

	if a.nested != nil && (a.dotted == nil || a.nestedFirst) {
		set := a.nested
		if len(set.Bindings) == 0 {
			outer := lineIndent(src, set.LBrace)
			text := "\n" + outer + "  " + assignment + "\n" + outer
			return Edit{Span: Span{Start: set.LBrace + 1, End: set.RBrace}, Text: text, Reason: reason}
		}
		at := set.Bindings[0].Span().Start
		return insertBefore(src, at, assignment, reason, false)
	}

	if a.dotted != nil {
		return insertBefore(src, a.dotted.Loc.Start, "inputs."+assignment, reason, false)
	}
	return insertBefore(src, a.outputs.Loc.Start, "inputs."+assignment, reason, true)
}

// insertBefore inserts text in front of the binding at off, on its own line
// with the same indentation when the binding starts its line.
func insertBefore(src string, off int, text, reason string, blankLine bool) Edit {
	indent := lineIndent(src, off)
	lineStart := strings.LastIndexByte(src[:off], '\n') + 1
	sep := " "
	if lineStart+len(indent) == off {
		sep = "\n"
		if blankLine {
			sep = "\n\n"
		}
		sep += indent
	}
	return Edit{Span: Span{Start: off, End: off}, Text: text + sep, Reason: reason}
}
