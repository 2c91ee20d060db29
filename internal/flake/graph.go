package flake

import (
	"fmt"
	"slices"
	"strings"

	"notashelf.dev/fh/internal/nixexpr"
)

// BuildGraph parses a flake.nix and extracts its inputs.
func BuildGraph(src string) (*Graph, error) {
	file, err := nixexpr.Parse(src)
	if err != nil {
		return nil, err
	}
	return GraphFromFile(file)
}

// GraphFromFile extracts the inputs of an already parsed flake.nix. Both
// the nested (`inputs = { x.url = ...; }`) and the dotted
// (`inputs.x.url = ...`) forms are folded into one InputSpec per name, in
// source order; a key assigned twice keeps the later value and records a
// warning.
func GraphFromFile(file *nixexpr.File) (*Graph, error) {
	root, ok := file.Root.(*nixexpr.AttrSet)
	if !ok {
		return nil, &MalformedInputDeclError{Path: "<root>", Reason: "top-level expression is not an attribute set"}
	}

	b := &builder{src: file.Src, byPath: make(map[string]*decl)}
	if err := b.walkTop(root); err != nil {
		return nil, err
	}
	return b.finish(), nil
}

type declValue struct {
	node nixexpr.Node
	span Span
	text string
}

type decl struct {
	path    []string
	url     *declValue
	follows *declValue
	flake   *declValue
	attrs   map[string]*declValue
}

func (d *decl) name() string {
	return strings.Join(d.path, ".")
}

type builder struct {
	src      string
	decls    []*decl
	byPath   map[string]*decl
	warnings []Warning
	anchors  anchors
	outputs  *OutputsParams
}

func (b *builder) walkTop(root *nixexpr.AttrSet) error {
	for _, binding := range root.Bindings {
		assign, ok := binding.(*nixexpr.Assign)
		if !ok || assign.Path[0].Dynamic {
			continue
		}

		switch assign.Path[0].Name {
		case "inputs":
			if len(assign.Path) > 1 {
				if b.anchors.dotted == nil {
					b.anchors.dotted = assign
				}
				if err := b.declareChild(nil, assign.Path[1:], assign.Value); err != nil {
					return err
				}
				continue
			}

			set, ok := assign.Value.(*nixexpr.AttrSet)
			if !ok {
				return b.malformed(nil, assign.Value, "inputs must be an attribute set")
			}
			if b.anchors.nested == nil {
				b.anchors.nested = set
				b.anchors.nestedFirst = b.anchors.dotted == nil
			}
			if err := b.walkChildren(nil, set); err != nil {
				return err
			}
		case "outputs":
			if len(assign.Path) == 1 {
				b.anchors.outputs = assign
				b.outputs = outputsParams(assign.Value)
			}
		}
	}
	return nil
}

// walkChildren handles the body of an `inputs = { ... }` set belonging to
// the input at parent (nil for the flake itself).
func (b *builder) walkChildren(parent []string, set *nixexpr.AttrSet) error {
	for _, binding := range set.Bindings {
		assign, ok := binding.(*nixexpr.Assign)
		if !ok {
			return b.malformed(parent, binding, "inherit is not supported in input declarations")
		}
		if err := b.declareChild(parent, assign.Path, assign.Value); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) declareChild(parent []string, keys []*nixexpr.AttrKey, value nixexpr.Node) error {
	if keys[0].Dynamic {
		return b.malformed(parent, keys[0], "input names must be static")
	}

	path := slices.Clone(parent)
	if parent != nil {
		path = append(path, "inputs")
	}
	path = append(path, keys[0].Name)
	return b.declare(path, keys[1:], value)
}

// declare assigns value to the attribute keys of the input at path.
func (b *builder) declare(path []string, keys []*nixexpr.AttrKey, value nixexpr.Node) error {
	d := b.decl(path)

	if len(keys) == 0 {
		set, ok := value.(*nixexpr.AttrSet)
		if !ok {
			return b.malformed(path, value, "an input must be an attribute set")
		}
		for _, binding := range set.Bindings {
			assign, ok := binding.(*nixexpr.Assign)
			if !ok {
				return b.malformed(path, binding, "inherit is not supported in input declarations")
			}
			if err := b.declare(path, assign.Path, assign.Value); err != nil {
				return err
			}
		}
		return nil
	}

	key := keys[0]
	if key.Dynamic {
		return b.malformed(path, key, "attribute names must be static")
	}

	if key.Name == "inputs" {
		if len(keys) > 1 {
			return b.declareChild(path, keys[1:], value)
		}
		set, ok := value.(*nixexpr.AttrSet)
		if !ok {
			return b.malformed(path, value, "inputs must be an attribute set")
		}
		return b.walkChildren(path, set)
	}

	if len(keys) > 1 {
		return b.malformed(append(slices.Clone(path), key.Name), keys[1], "unexpected nested attribute")
	}
	return b.set(d, key.Name, value)
}

func (b *builder) decl(path []string) *decl {
	key := strings.Join(path, ".")
	if d, ok := b.byPath[key]; ok {
		return d
	}
	d := &decl{path: slices.Clone(path), attrs: make(map[string]*declValue)}
	b.byPath[key] = d
	b.decls = append(b.decls, d)
	return d
}

func (b *builder) set(d *decl, attr string, value nixexpr.Node) error {
	v := &declValue{node: value, span: spanOf(value), text: b.src[value.Span().Start:value.Span().End]}

	switch n := value.(type) {
	case *nixexpr.String:
		if n.Interpolated && (attr == "url" || attr == "follows") {
			return b.malformed(append(slices.Clone(d.path), attr), value, "must not contain interpolation")
		}
		v.text = n.Value
	case *nixexpr.URI:
		v.text = n.Value
	case *nixexpr.Ident:
		v.text = n.Name
	}

	switch attr {
	case "url":
		if !isStringLike(value) {
			return b.malformed(append(slices.Clone(d.path), attr), value, "url must be a string")
		}
		b.replace(d, attr, &d.url, v)
	case "follows":
		if _, ok := value.(*nixexpr.String); !ok {
			return b.malformed(append(slices.Clone(d.path), attr), value, "follows must be a string")
		}
		b.replace(d, attr, &d.follows, v)
	case "flake":
		if ident, ok := value.(*nixexpr.Ident); !ok || (ident.Name != "true" && ident.Name != "false") {
			return b.malformed(append(slices.Clone(d.path), attr), value, "flake must be true or false")
		}
		b.replace(d, attr, &d.flake, v)
	default:
		slot := d.attrs[attr]
		b.replace(d, attr, &slot, v)
		d.attrs[attr] = slot
	}
	return nil
}

func (b *builder) replace(d *decl, attr string, slot **declValue, v *declValue) {
	if prev := *slot; prev != nil {
		line, col := nixexpr.Position(b.src, prev.span.Start)
		newLine, newCol := nixexpr.Position(b.src, v.span.Start)
		b.warn(d, v.span, fmt.Sprintf("%s.%s is declared more than once (%d:%d and %d:%d); the later declaration wins",
			displayPath(d.path), attr, line, col, newLine, newCol))
	}
	*slot = v
}

func (b *builder) warn(d *decl, span Span, msg string) {
	b.warnings = append(b.warnings, Warning{Input: d.name(), Span: span, Message: msg})
}

func (b *builder) finish() *Graph {
	g := &Graph{
		Outputs:  b.outputs,
		Warnings: b.warnings,
		byName:   make(map[string]*InputSpec),
		anchors:  b.anchors,
	}

	for _, d := range b.decls {
		spec := &InputSpec{Name: d.name(), IsFlake: true, Attrs: make(map[string]string)}
		if d.flake != nil {
			spec.IsFlake = d.flake.text == "true"
			spec.Attrs["flake"] = d.flake.text
		}
		locatorAttrs := make(map[string]string, len(d.attrs))
		for attr, v := range d.attrs {
			locatorAttrs[attr] = v.text
			spec.Attrs[attr] = v.text
		}

		url, follows := d.url, d.follows
		if url != nil && follows != nil {
			winner := "follows"
			if url.span.Start > follows.span.Start {
				winner = "url"
			}
			g.Warnings = append(g.Warnings, Warning{
				Input:   spec.Name,
				Span:    url.span,
				Message: fmt.Sprintf("%s declares both url and follows; using %s", displayPath(d.path), winner),
			})
			if winner == "url" {
				follows = nil
			} else {
				url = nil
			}
		}

		switch {
		case url != nil:
			spec.Locator = Classify(url.text)
			spec.Form = FormURL
			spec.Spans = []Span{url.span}
			spec.Attrs["url"] = url.text
		case follows != nil:
			spec.Follows = true
			spec.FollowsTarget = follows.text
			spec.Form = FormFollows
			spec.Spans = []Span{follows.span}
			spec.Attrs["follows"] = follows.text
		case d.attrs["type"] != nil:
			spec.Locator = ClassifyAttrs(locatorAttrs)
			spec.Form = FormAttrs
			for _, attr := range sortedKeys(d.attrs) {
				spec.Spans = append(spec.Spans, d.attrs[attr].span)
			}
			slices.SortFunc(spec.Spans, func(a, b Span) int { return a.Start - b.Start })
		case len(d.path) == 1:
			spec.Locator = IndirectRef{ID: spec.Name, Implicit: true}
			spec.Form = FormImplicit
		default:
			// Only a container for deeper overrides.
			continue
		}

		g.Inputs = append(g.Inputs, spec)
		g.byName[spec.Name] = spec
	}

	return g
}

func (b *builder) malformed(path []string, at nixexpr.Node, reason string) error {
	line, col := nixexpr.Position(b.src, at.Span().Start)
	return &MalformedInputDeclError{Path: displayPath(path), Line: line, Column: col, Reason: reason}
}

func outputsParams(value nixexpr.Node) *OutputsParams {
	fn, ok := value.(*nixexpr.Function)
	if !ok {
		return &OutputsParams{}
	}
	if fn.Param != nil {
		return &OutputsParams{Simple: true}
	}

	pat := fn.Pattern
	out := &OutputsParams{
		Pattern:      true,
		Span:         spanOf(pat),
		Ellipsis:     pat.Ellipsis,
		EllipsisSpan: Span{Start: pat.EllipsisLoc.Start, End: pat.EllipsisLoc.End},
	}
	for _, arg := range pat.Args {
		out.Args = append(out.Args, OutputsArg{Name: arg.Name, Span: spanOf(arg)})
	}
	if pat.Bind != nil {
		out.Bind = pat.Bind.Name
	}
	return out
}

func isStringLike(n nixexpr.Node) bool {
	switch n.(type) {
	case *nixexpr.String, *nixexpr.URI:
		return true
	}
	return false
}

func displayPath(path []string) string {
	if len(path) == 0 {
		return "inputs"
	}
	return "inputs." + strings.Join(path, ".")
}
