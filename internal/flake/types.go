package flake

import (
	"slices"
	"strings"

	"notashelf.dev/fh/internal/nixexpr"
)

// Span is a half-open byte range [Start, End) in flake.nix.
type Span struct {
	Start int
	End   int
}

func spanOf(n nixexpr.Node) Span {
	s := n.Span()
	return Span{Start: s.Start, End: s.End}
}

// Overlaps reports whether the two ranges share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// DeclForm records how an input's locator was written.
type DeclForm int

const (
	// FormURL is `url = "...";`.
	FormURL DeclForm = iota
	// FormAttrs is `type = "github"; owner = ...;`.
	FormAttrs
	// FormImplicit is an input with no locator of its own.
	FormImplicit
	// FormFollows is `follows = "...";`.
	FormFollows
)

// InputSpec is one declared flake input. Exactly one of Locator and Follows
// is set.
type InputSpec struct {
	// Name is the dotted path of the input, e.g. "agenix.inputs.darwin".
	Name string

	Locator Locator

	// IsFlake is false for `flake = false;` inputs.
	IsFlake bool

	Follows       bool
	FollowsTarget string

	// Spans point at the locator text: the url (or follows) value, or one
	// span per attribute for attribute-style locators.
	Spans []Span

	Form DeclForm

	// Attrs holds every plain attribute of the input besides inputs.*,
	// keyed by attribute name, with string values unquoted.
	Attrs map[string]string
}

// TopLevel reports whether the input is declared by the flake itself
// rather than overriding an input of a dependency.
func (s *InputSpec) TopLevel() bool {
	return !strings.Contains(s.Name, ".")
}

// Warning is a non-fatal observation about the source.
type Warning struct {
	Input   string
	Span    Span
	Message string
}

// OutputsParams describes the head of the outputs function.
type OutputsParams struct {
	// Simple is set for `outputs = inputs: ...`.
	Simple bool

	// Pattern is set for `outputs = { self, nixpkgs, ... }: ...`.
	Pattern bool

	Span         Span // the braces of the pattern
	Args         []OutputsArg
	Ellipsis     bool
	EllipsisSpan Span
	Bind         string // the @-bound name, if any
}

type OutputsArg struct {
	Name string
	Span Span
}

// Has reports whether the outputs pattern destructures name.
func (o *OutputsParams) Has(name string) bool {
	for _, arg := range o.Args {
		if arg.Name == name {
			return true
		}
	}
	return false
}

// Graph is the ordered set of inputs declared by one flake.nix.
type Graph struct {
	Inputs   []*InputSpec
	Outputs  *OutputsParams
	Warnings []Warning

	byName  map[string]*InputSpec
	anchors anchors
}

// anchors are the positions AddInput inserts new declarations at.
type anchors struct {
	// nested is the first `inputs = { ... };` attribute set.
	nested *nixexpr.AttrSet
	// dotted is the first top-level `inputs.x... = ...;` binding.
	dotted *nixexpr.Assign
	// nestedFirst is set when nested precedes dotted in the source.
	nestedFirst bool
	// outputs is the `outputs = ...;` binding.
	outputs *nixexpr.Assign
}

// Input returns the input called name.
func (g *Graph) Input(name string) (*InputSpec, bool) {
	spec, ok := g.byName[name]
	return spec, ok
}

// Names returns every input name in declaration order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.Inputs))
	for _, spec := range g.Inputs {
		names = append(names, spec.Name)
	}
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
