package expression

import "fmt"

// Parser is a recursive-descent parser over the filter expression
// grammar: comparisons, CONTAINS membership, AND/OR/NOT composition,
// and parenthesization (spec section 4.3).
type parser struct {
	lex  *lexer
	cur  token
	peek *token
}

// Parse compiles a filter expression string into an Expr tree.
func Parse(input string) (Expr, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing token %q", p.cur.text)
	}
	return expr, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.cur.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	if p.cur.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("expected ')', got %q", p.cur.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	if p.cur.kind != tokIdent {
		return nil, fmt.Errorf("expected field name, got %q", p.cur.text)
	}
	field := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	var op CompareOp
	switch p.cur.kind {
	case tokEq:
		op = OpEq
	case tokNeq:
		op = OpNeq
	case tokLt:
		op = OpLt
	case tokLte:
		op = OpLte
	case tokGt:
		op = OpGt
	case tokGte:
		op = OpGte
	case tokContains:
		op = OpContains
	default:
		return nil, fmt.Errorf("expected comparison operator after field %q, got %q", field, p.cur.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	return Comparison{Field: field, Op: op, Value: lit}, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	switch p.cur.kind {
	case tokString:
		lit := Literal{Str: p.cur.text}
		return lit, p.advance()
	case tokNumber:
		n, err := parseNumberLiteral(p.cur.text)
		if err != nil {
			return Literal{}, fmt.Errorf("invalid number %q: %w", p.cur.text, err)
		}
		lit := Literal{IsNumber: true, Number: n}
		return lit, p.advance()
	case tokIdent:
		// Bareword literals (e.g. true/false, or an unquoted value) compare
		// as strings.
		lit := Literal{Str: p.cur.text}
		return lit, p.advance()
	default:
		return Literal{}, fmt.Errorf("expected literal value, got %q", p.cur.text)
	}
}

// ParseSort compiles a comma-separated list of "field (ASC|DESC)" sort
// keys. A key with no direction keyword defaults to ascending.
func ParseSort(input string) ([]SortKey, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	var keys []SortKey
	for {
		if p.cur.kind != tokIdent {
			return nil, fmt.Errorf("expected field name in sort key, got %q", p.cur.text)
		}
		key := SortKey{Field: p.cur.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch p.cur.kind {
		case tokAsc:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokDesc:
			key.Descending = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		keys = append(keys, key)

		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing token %q in sort expression", p.cur.text)
	}
	return keys, nil
}
