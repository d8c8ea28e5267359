package expr

import (
	"strconv"
	"strings"
)

// Parse compiles the filter-expression surface syntax into an Expr tree.
// Operator precedence (highest to lowest) is NOT, comparison, AND, OR;
// parentheses override. Whitespace is irrelevant. Parse failures return a
// *ParseError naming the offending fragment.
func Parse(src string) (*Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != TokEOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return e, nil
}

type parser struct {
	toks []Token
	pos  int
	src  string
}

func (p *parser) cur() Token {
	if p.pos >= len(p.toks) {
		return Token{Kind: TokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) errorf(msg string) error {
	t := p.cur()
	frag := t.Text
	if frag == "" {
		if t.Pos < len(p.src) {
			frag = p.src[t.Pos:]
		}
	}
	return &ParseError{Message: msg, Fragment: frag, Pos: t.Pos}
}

// parseOr handles lowest precedence: a (OR|'||') b (OR|'||') c ...
func (p *parser) parseOr() (*Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []*Expr{left}
	for p.cur().Kind == TokOr || p.cur().Kind == TokOrOr {
		p.advance()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, rhs)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &Expr{Kind: KindOr, Operands: operands}, nil
}

func (p *parser) parseAnd() (*Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	operands := []*Expr{left}
	for p.cur().Kind == TokAnd || p.cur().Kind == TokAndAnd {
		p.advance()
		rhs, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		operands = append(operands, rhs)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return &Expr{Kind: KindAnd, Operands: operands}, nil
}

func (p *parser) parseNot() (*Expr, error) {
	if p.cur().Kind == TokNot || p.cur().Kind == TokBang {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: KindNot, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parseComparison() (*Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	switch p.cur().Kind {
	case TokOp:
		op := p.cur().Op
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: KindCompare, Op: op, Left: left, Right: right}, nil
	case TokIn:
		p.advance()
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: KindIn, Left: left, List: list}, nil
	}
	return left, nil
}

func (p *parser) parseList() ([]*Expr, error) {
	if p.cur().Kind != TokLBracket {
		return nil, p.errorf("expected '[' to start IN list")
	}
	p.advance()
	var list []*Expr
	if p.cur().Kind == TokRBracket {
		p.advance()
		return list, nil
	}
	for {
		item, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	if p.cur().Kind != TokRBracket {
		return nil, p.errorf("expected ']' to close IN list")
	}
	p.advance()
	return list, nil
}

// parsePrimary handles literals, field paths, function calls, and
// parenthesised subexpressions.
func (p *parser) parsePrimary() (*Expr, error) {
	t := p.cur()
	switch t.Kind {
	case TokLParen:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind != TokRParen {
			return nil, p.errorf("expected ')'")
		}
		p.advance()
		return e, nil
	case TokBang, TokNot:
		return p.parseNot()
	case TokNumber:
		p.advance()
		n, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, &ParseError{Message: "invalid number literal", Fragment: t.Text, Pos: t.Pos}
		}
		return &Expr{Kind: KindLiteral, LitKind: LitNumber, Num: n}, nil
	case TokString:
		p.advance()
		return &Expr{Kind: KindLiteral, LitKind: LitString, Str: t.Text}, nil
	case TokIdent:
		return p.parseIdentOrCall()
	}
	return nil, p.errorf("unexpected token")
}

var funcNames = map[string]bool{
	"contains": true, "starts_with": true, "ends_with": true, "matches": true,
	"length": true, "count": true, "sum": true, "min": true, "max": true, "avg": true,
	"is_number": true, "is_string": true, "is_bool": true, "is_array": true,
	"is_object": true, "is_null": true, "is_not_null": true,
}

func (p *parser) parseIdentOrCall() (*Expr, error) {
	t := p.advance()
	name := t.Text

	switch strings.ToLower(name) {
	case "true":
		return True(), nil
	case "false":
		return False(), nil
	case "null", "nil":
		return &Expr{Kind: KindLiteral, LitKind: LitNull}, nil
	}

	if funcNames[strings.ToLower(name)] && p.cur().Kind == TokLParen {
		return p.parseCall(strings.ToLower(name))
	}

	return &Expr{Kind: KindField, Path: parsePath(name)}, nil
}

func (p *parser) parseCall(name string) (*Expr, error) {
	p.advance() // consume '('
	var args []*Expr
	if p.cur().Kind != TokRParen {
		for {
			a, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.cur().Kind == TokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.cur().Kind != TokRParen {
		return nil, p.errorf("expected ')' to close call to " + name)
	}
	p.advance()

	switch name {
	case "contains":
		return requireArgs(name, args, 2, func() *Expr { return &Expr{Kind: KindSubstring, Left: args[0], Right: args[1]} })
	case "starts_with":
		return requireArgs(name, args, 2, func() *Expr { return &Expr{Kind: KindPrefix, Left: args[0], Right: args[1]} })
	case "ends_with":
		return requireArgs(name, args, 2, func() *Expr { return &Expr{Kind: KindSuffix, Left: args[0], Right: args[1]} })
	case "matches":
		return requireArgs(name, args, 2, func() *Expr { return &Expr{Kind: KindRegex, Left: args[0], Right: args[1]} })
	case "length":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindAggregate, AggFunc: AggLength, AggArg: args[0]} })
	case "count":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindAggregate, AggFunc: AggCount, AggArg: args[0]} })
	case "sum":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindAggregate, AggFunc: AggSum, AggArg: args[0]} })
	case "min":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindAggregate, AggFunc: AggMin, AggArg: args[0]} })
	case "max":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindAggregate, AggFunc: AggMax, AggArg: args[0]} })
	case "avg":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindAggregate, AggFunc: AggAvg, AggArg: args[0]} })
	case "is_number":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsNumber, Subject: args[0]} })
	case "is_string":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsString, Subject: args[0]} })
	case "is_bool":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsBool, Subject: args[0]} })
	case "is_array":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsArray, Subject: args[0]} })
	case "is_object":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsObject, Subject: args[0]} })
	case "is_null":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsNull, Subject: args[0]} })
	case "is_not_null":
		return requireArgs(name, args, 1, func() *Expr { return &Expr{Kind: KindTypeCheck, TypeCheck: IsNotNull, Subject: args[0]} })
	}
	return nil, &ParseError{Message: "unknown function", Fragment: name, Pos: p.cur().Pos}
}

func requireArgs(name string, args []*Expr, n int, build func() *Expr) (*Expr, error) {
	if len(args) != n {
		return nil, &ParseError{Message: "wrong argument count for " + name, Fragment: name}
	}
	return build(), nil
}

// parsePath splits a dot/bracket field reference like "items[0].name" into
// PathSegments.
func parsePath(raw string) []PathSegment {
	var segs []PathSegment
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case '.':
			i++
		case '[':
			j := i + 1
			for j < len(raw) && raw[j] != ']' {
				j++
			}
			idx, _ := strconv.Atoi(raw[i+1 : j])
			segs = append(segs, PathSegment{IsIdx: true, Index: idx})
			i = j + 1
		default:
			j := i
			for j < len(raw) && raw[j] != '.' && raw[j] != '[' {
				j++
			}
			segs = append(segs, PathSegment{Field: raw[i:j]})
			i = j
		}
	}
	return segs
}
