package flake

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOutputs is returned by AddInput for a flake without an outputs
	// attribute to anchor the new declaration on.
	ErrNoOutputs = errors.New("flake.nix has no outputs attribute")

	// ErrInvalidInputName is returned by AddInput for names that cannot be
	// written as a bare attribute name.
	ErrInvalidInputName = errors.New("invalid input name")

	// ErrUnknownProvenance is returned by lookups that have no registry
	// counterpart for a reference.
	ErrUnknownProvenance = errors.New("unknown provenance")
)

// MalformedInputDeclError reports an input declaration shaped unlike any
// supported form.
type MalformedInputDeclError struct {
	Path   string
	Line   int
	Column int
	Reason string
}

func (e *MalformedInputDeclError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed input declaration %s at %d:%d: %s", e.Path, e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("malformed input declaration %s: %s", e.Path, e.Reason)
}

// NameCollisionError is returned when adding an input that already exists.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("input %q already exists", e.Name)
}

// ConflictingEditsError means two edits touch the same bytes. It is always
// a bug in whatever produced the edits.
type ConflictingEditsError struct {
	A Edit
	B Edit
}

func (e *ConflictingEditsError) Error() string {
	return fmt.Sprintf("conflicting edits: [%d,%d) %q and [%d,%d) %q",
		e.A.Span.Start, e.A.Span.End, e.A.Reason,
		e.B.Span.Start, e.B.Span.End, e.B.Reason)
}
