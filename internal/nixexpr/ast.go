// Package nixexpr parses the subset of the Nix language that a flake.nix
// top level is written in. Every node keeps the byte span it was read from so
// callers can rewrite the original text in place. Expressions the parser does
// not model (lists, let, operators, applications) become Opaque nodes.
package nixexpr

// Span is a half-open byte range [Start, End) in the source text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

type Node interface {
	Span() Span
}

// File is a parsed source file.
type File struct {
	Src  string
	Root Node
}

// AttrSet is `{ ... }` or `rec { ... }`.
type AttrSet struct {
	Loc      Span
	Rec      bool
	Bindings []Binding
	LBrace   int // offset of '{'
	RBrace   int // offset of '}'
}

func (n *AttrSet) Span() Span { return n.Loc }

type Binding interface {
	Node
	binding()
}

// Assign is `a.b.c = value;`. Loc covers the path through the semicolon.
type Assign struct {
	Loc   Span
	Path  []*AttrKey
	Value Node
}

func (n *Assign) Span() Span { return n.Loc }
func (n *Assign) binding()   {}

// Inherit is `inherit (x) a b;`, kept only for its span.
type Inherit struct {
	Loc Span
}

func (n *Inherit) Span() Span { return n.Loc }
func (n *Inherit) binding()   {}

// AttrKey is one segment of an attribute path.
type AttrKey struct {
	Loc     Span
	Name    string
	Dynamic bool // ${...} keys and interpolated string keys
}

func (n *AttrKey) Span() Span { return n.Loc }

// String is a double-quoted or indented string literal.
type String struct {
	Loc          Span
	Value        string
	Interpolated bool
	Indented     bool
}

func (n *String) Span() Span { return n.Loc }

// Ident is a bare identifier, including true, false and null.
type Ident struct {
	Loc  Span
	Name string
}

func (n *Ident) Span() Span { return n.Loc }

// URI is a bare URI literal (deprecated in Nix but still accepted).
type URI struct {
	Loc   Span
	Value string
}

func (n *URI) Span() Span { return n.Loc }

// Path is a path literal.
type Path struct {
	Loc   Span
	Value string
}

func (n *Path) Span() Span { return n.Loc }

// Function is a lambda. Exactly one of Param and Pattern is set.
type Function struct {
	Loc     Span
	Param   *Ident
	Pattern *Pattern
	Body    Node
}

func (n *Function) Span() Span { return n.Loc }

// Pattern is a destructuring function head: `{ a, b ? x, ... } @ args`.
type Pattern struct {
	Loc         Span // from '{' through '}'
	Args        []*PatternArg
	Ellipsis    bool
	EllipsisLoc Span
	Bind        *Ident // the @-bound name, if any
}

func (n *Pattern) Span() Span { return n.Loc }

// Has reports whether the pattern destructures name.
func (n *Pattern) Has(name string) bool {
	for _, arg := range n.Args {
		if arg.Name == name {
			return true
		}
	}
	return false
}

// PatternArg is one formal; Loc covers the name and its default, if any.
type PatternArg struct {
	Loc     Span
	Name    string
	NameLoc Span
	Default Node
}

func (n *PatternArg) Span() Span { return n.Loc }

// Opaque is any expression the parser skips over.
type Opaque struct {
	Loc Span
}

func (n *Opaque) Span() Span { return n.Loc }
