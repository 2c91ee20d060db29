package flake

import (
	"fmt"
	"slices"
	"strings"
)

// Apply splices edits into src in one pass. Bytes outside the edited spans
// are copied verbatim. Overlapping edits, or two insertions at the same
// offset, fail with *ConflictingEditsError and nothing is produced.
func Apply(src string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return src, nil
	}

	sorted := slices.Clone(edits)
	slices.SortStableFunc(sorted, func(a, b Edit) int {
		if a.Span.Start != b.Span.Start {
			return a.Span.Start - b.Span.Start
		}
		return a.Span.End - b.Span.End
	})

	for i, e := range sorted {
		if e.Span.Start < 0 || e.Span.End < e.Span.Start || e.Span.End > len(src) {
			return "", fmt.Errorf("edit %q: span [%d,%d) out of bounds for %d bytes", e.Reason, e.Span.Start, e.Span.End, len(src))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Span.End > e.Span.Start || (prev.Span.Start == e.Span.Start && prev.Span.End == prev.Span.Start) {
			return "", &ConflictingEditsError{A: prev, B: e}
		}
	}

	var b strings.Builder
	b.Grow(len(src))
	cursor := 0
	for _, e := range sorted {
		b.WriteString(src[cursor:e.Span.Start])
		b.WriteString(e.Text)
		cursor = e.Span.End
	}
	b.WriteString(src[cursor:])
	return b.String(), nil
}

// OutputsParamEdit returns the edit adding name to the outputs function's
// argument pattern. It reports false when no edit is needed: the name is
// already destructured, or the outputs function takes a single argument.
func OutputsParamEdit(g *Graph, name string) (Edit, bool) {
	out := g.Outputs
	if out == nil || !out.Pattern || out.Has(name) {
		return Edit{}, false
	}

	reason := fmt.Sprintf("add %s to the outputs arguments", name)
	switch {
	case len(out.Args) > 0:
		last := out.Args[len(out.Args)-1]
		return Edit{Span: Span{Start: last.Span.End, End: last.Span.End}, Text: ", " + name, Reason: reason}, true
	case out.Ellipsis:
		at := out.EllipsisSpan.Start
		return Edit{Span: Span{Start: at, End: at}, Text: name + ", ", Reason: reason}, true
	default:
		inner := Span{Start: out.Span.Start + 1, End: out.Span.End - 1}
		return Edit{Span: inner, Text: " " + name + " ", Reason: reason}, true
	}
}

// lineIndent returns the whitespace between the start of the line holding
// off and the first non-blank character on it.
func lineIndent(src string, off int) string {
	start := strings.LastIndexByte(src[:off], '\n') + 1
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return src[start:end]
}
