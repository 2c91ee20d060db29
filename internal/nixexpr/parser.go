package nixexpr

import (
	"fmt"
)

type stopMode int

const (
	stopRoot stopMode = iota
	stopSemicolon
	stopComma
)

type parser struct {
	src  string
	toks []token
	i    int
}

// Parse parses src into a File. Errors are always *SyntaxError.
func Parse(src string) (*File, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, toks: toks}
	root, err := p.parseExpr(stopRoot)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, fmt.Sprintf("unexpected %s after expression", describe(tok)))
	}

	return &File{Src: src, Root: root}, nil
}

func (p *parser) peek() token {
	return p.peekAt(0)
}

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) errorf(tok token, msg string) error {
	return newSyntaxError(p.src, tok.start, msg)
}

func (p *parser) expect(text string) (token, error) {
	tok := p.peek()
	if !isPunct(tok, text) {
		return tok, p.errorf(tok, fmt.Sprintf("expected %q, got %s", text, describe(tok)))
	}
	p.i++
	return tok, nil
}

func (p *parser) parseExpr(mode stopMode) (Node, error) {
	first := p.peek()
	node, err := p.parsePrimary(mode)
	if err != nil {
		return nil, err
	}
	if node != nil && p.atStop(mode) {
		return node, nil
	}

	end, err := p.skip(mode)
	if err != nil {
		return nil, err
	}
	if end <= first.start {
		return nil, p.errorf(p.peek(), fmt.Sprintf("expected expression, got %s", describe(p.peek())))
	}
	return &Opaque{Loc: Span{Start: first.start, End: end}}, nil
}

func (p *parser) atStop(mode stopMode) bool {
	tok := p.peek()
	switch {
	case tok.kind == tokEOF:
		return true
	case isPunct(tok, "}"), isPunct(tok, "]"), isPunct(tok, ")"):
		return true
	case mode == stopSemicolon && isPunct(tok, ";"):
		return true
	case mode == stopComma && isPunct(tok, ","):
		return true
	}
	return false
}

// skip consumes tokens up to the end of the current expression and returns
// the end offset of the last consumed token.
func (p *parser) skip(mode stopMode) (int, error) {
	end := p.peek().start
	if p.i > 0 {
		end = p.toks[p.i-1].end
	}

	depth, lets, pending := 0, 0, 0
	for {
		tok := p.peek()
		if tok.kind == tokEOF {
			if depth > 0 {
				return 0, p.errorf(tok, "unexpected end of file")
			}
			return end, nil
		}

		if tok.kind == tokPunct {
			switch tok.text {
			case "{", "[", "(", "${":
				depth++
			case "}", "]", ")":
				if depth == 0 {
					return end, nil
				}
				depth--
			case ";":
				if depth == 0 {
					switch {
					case pending > 0:
						pending--
					case lets > 0:
					case mode == stopSemicolon:
						return end, nil
					default:
						return 0, p.errorf(tok, "unexpected ';'")
					}
				}
			case ",":
				if depth == 0 && mode == stopComma && lets == 0 && pending == 0 {
					return end, nil
				}
			}
		}

		if tok.kind == tokIdent && depth == 0 {
			switch tok.text {
			case "let":
				lets++
			case "in":
				if lets > 0 {
					lets--
				}
			case "with", "assert":
				pending++
			}
		}

		p.i++
		end = tok.end
	}
}

func (p *parser) parsePrimary(mode stopMode) (Node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokPunct:
		if tok.text == "{" {
			if p.patternAhead() {
				return p.parsePatternFunction(nil, mode)
			}
			return p.parseAttrSet(tok.start, false)
		}
	case tokIdent:
		if keywords[tok.text] && tok.text != "rec" {
			return nil, nil
		}
		next := p.peekAt(1)
		switch {
		case tok.text == "rec" && isPunct(next, "{"):
			p.i++
			return p.parseAttrSet(tok.start, true)
		case isPunct(next, ":"):
			p.i += 2
			body, err := p.parseExpr(mode)
			if err != nil {
				return nil, err
			}
			param := &Ident{Loc: Span{Start: tok.start, End: tok.end}, Name: tok.text}
			return &Function{Loc: Span{Start: tok.start, End: body.Span().End}, Param: param, Body: body}, nil
		case isPunct(next, "@") && isPunct(p.peekAt(2), "{"):
			p.i += 2
			bind := &Ident{Loc: Span{Start: tok.start, End: tok.end}, Name: tok.text}
			return p.parsePatternFunction(bind, mode)
		}
		p.i++
		return &Ident{Loc: Span{Start: tok.start, End: tok.end}, Name: tok.text}, nil
	case tokString, tokIndString:
		p.i++
		return &String{
			Loc:          Span{Start: tok.start, End: tok.end},
			Value:        tok.value,
			Interpolated: tok.interpolated,
			Indented:     tok.kind == tokIndString,
		}, nil
	case tokURI:
		p.i++
		return &URI{Loc: Span{Start: tok.start, End: tok.end}, Value: tok.text}, nil
	case tokPath:
		p.i++
		return &Path{Loc: Span{Start: tok.start, End: tok.end}, Value: tok.text}, nil
	}
	return nil, nil
}

// patternAhead decides whether the '{' at the cursor opens a function head
// rather than an attribute set.
func (p *parser) patternAhead() bool {
	t1, t2 := p.peekAt(1), p.peekAt(2)
	switch {
	case isPunct(t1, "..."):
		return true
	case isPunct(t1, "}"):
		return isPunct(t2, ":") || isPunct(t2, "@")
	case t1.kind == tokIdent && t1.text != "inherit":
		if isPunct(t2, ",") || isPunct(t2, "?") {
			return true
		}
		if isPunct(t2, "}") {
			t3 := p.peekAt(3)
			return isPunct(t3, ":") || isPunct(t3, "@")
		}
	}
	return false
}

func (p *parser) parsePatternFunction(bindBefore *Ident, mode stopMode) (Node, error) {
	lbrace, err := p.expect("{")
	if err != nil {
		return nil, err
	}

	pat := &Pattern{}
	for {
		tok := p.peek()
		if isPunct(tok, "}") {
			p.i++
			pat.Loc = Span{Start: lbrace.start, End: tok.end}
			break
		}

		switch {
		case isPunct(tok, "..."):
			p.i++
			pat.Ellipsis = true
			pat.EllipsisLoc = Span{Start: tok.start, End: tok.end}
		case tok.kind == tokIdent:
			p.i++
			arg := &PatternArg{
				Loc:     Span{Start: tok.start, End: tok.end},
				Name:    tok.text,
				NameLoc: Span{Start: tok.start, End: tok.end},
			}
			if isPunct(p.peek(), "?") {
				p.i++
				def, err := p.parseExpr(stopComma)
				if err != nil {
					return nil, err
				}
				arg.Default = def
				arg.Loc.End = def.Span().End
			}
			pat.Args = append(pat.Args, arg)
		default:
			return nil, p.errorf(tok, fmt.Sprintf("unexpected %s in function arguments", describe(tok)))
		}

		next := p.peek()
		switch {
		case isPunct(next, ","):
			p.i++
		case isPunct(next, "}"):
		default:
			return nil, p.errorf(next, fmt.Sprintf("expected ',' or '}', got %s", describe(next)))
		}
	}

	start := lbrace.start
	if bindBefore != nil {
		pat.Bind = bindBefore
		start = bindBefore.Loc.Start
	} else if isPunct(p.peek(), "@") {
		p.i++
		name := p.peek()
		if name.kind != tokIdent {
			return nil, p.errorf(name, fmt.Sprintf("expected identifier after '@', got %s", describe(name)))
		}
		p.i++
		pat.Bind = &Ident{Loc: Span{Start: name.start, End: name.end}, Name: name.text}
	}

	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	body, err := p.parseExpr(mode)
	if err != nil {
		return nil, err
	}

	return &Function{Loc: Span{Start: start, End: body.Span().End}, Pattern: pat, Body: body}, nil
}

func (p *parser) parseAttrSet(start int, rec bool) (Node, error) {
	lbrace, err := p.expect("{")
	if err != nil {
		return nil, err
	}

	set := &AttrSet{Rec: rec, LBrace: lbrace.start}
	for {
		tok := p.peek()
		switch {
		case isPunct(tok, "}"):
			p.i++
			set.RBrace = tok.start
			set.Loc = Span{Start: start, End: tok.end}
			return set, nil
		case tok.kind == tokEOF:
			return nil, p.errorf(tok, "unexpected end of file, expected '}'")
		case tok.kind == tokIdent && tok.text == "inherit":
			p.i++
			if _, err := p.skip(stopSemicolon); err != nil {
				return nil, err
			}
			semi, err := p.expect(";")
			if err != nil {
				return nil, err
			}
			set.Bindings = append(set.Bindings, &Inherit{Loc: Span{Start: tok.start, End: semi.end}})
		default:
			path, err := p.parseAttrPath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("="); err != nil {
				return nil, err
			}
			value, err := p.parseExpr(stopSemicolon)
			if err != nil {
				return nil, err
			}
			semi, err := p.expect(";")
			if err != nil {
				return nil, err
			}
			set.Bindings = append(set.Bindings, &Assign{
				Loc:   Span{Start: path[0].Loc.Start, End: semi.end},
				Path:  path,
				Value: value,
			})
		}
	}
}

func (p *parser) parseAttrPath() ([]*AttrKey, error) {
	var path []*AttrKey
	for {
		key, err := p.parseAttrKey()
		if err != nil {
			return nil, err
		}
		path = append(path, key)
		if !isPunct(p.peek(), ".") {
			return path, nil
		}
		p.i++
	}
}

func (p *parser) parseAttrKey() (*AttrKey, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokIdent:
		p.i++
		return &AttrKey{Loc: Span{Start: tok.start, End: tok.end}, Name: tok.text}, nil
	case tok.kind == tokString:
		p.i++
		return &AttrKey{Loc: Span{Start: tok.start, End: tok.end}, Name: tok.value, Dynamic: tok.interpolated}, nil
	case isPunct(tok, "${"):
		p.i++
		depth := 1
		for depth > 0 {
			t := p.peek()
			switch {
			case t.kind == tokEOF:
				return nil, p.errorf(tok, "unterminated interpolation")
			case isPunct(t, "{"), isPunct(t, "${"):
				depth++
			case isPunct(t, "}"):
				depth--
			}
			p.i++
		}
		end := p.toks[p.i-1].end
		return &AttrKey{Loc: Span{Start: tok.start, End: end}, Name: p.src[tok.start:end], Dynamic: true}, nil
	}
	return nil, p.errorf(tok, fmt.Sprintf("expected attribute name, got %s", describe(tok)))
}

var keywords = map[string]bool{
	"let": true, "in": true, "with": true, "assert": true, "rec": true,
	"if": true, "then": true, "else": true, "inherit": true,
}

func isPunct(tok token, text string) bool {
	return tok.kind == tokPunct && tok.text == text
}

func describe(tok token) string {
	if tok.kind == tokEOF {
		return "end of file"
	}
	return fmt.Sprintf("%q", tok.text)
}
