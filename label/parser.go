package label

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenAtom
	tokenNot
	tokenAnd
	tokenOr
	tokenImplies
	tokenIff
	tokenOpen
	tokenClose
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var operators = []struct {
	text string
	kind tokenKind
}{
	{"<->", tokenIff},
	{"->", tokenImplies},
	{"&&", tokenAnd},
	{"||", tokenOr},
	{"!", tokenNot},
	{"(", tokenOpen},
	{")", tokenClose},
}

type tokenizer struct {
	input string
	pos   int
}

func (t *tokenizer) operatorAt(pos int) (string, tokenKind, bool) {
	for _, op := range operators {
		if strings.HasPrefix(t.input[pos:], op.text) {
			return op.text, op.kind, true
		}
	}
	return "", tokenEOF, false
}

func (t *tokenizer) next() (token, error) {
	for t.pos < len(t.input) && unicode.IsSpace(rune(t.input[t.pos])) {
		t.pos++
	}
	if t.pos >= len(t.input) {
		return token{kind: tokenEOF, pos: t.pos}, nil
	}

	start := t.pos
	if text, kind, ok := t.operatorAt(t.pos); ok {
		t.pos += len(text)
		return token{kind: kind, text: text, pos: start}, nil
	}

	if t.input[t.pos] == '"' {
		var atom strings.Builder
		t.pos++
		for t.pos < len(t.input) {
			c := t.input[t.pos]
			switch {
			case c == '\\' && t.pos+1 < len(t.input):
				atom.WriteByte(t.input[t.pos+1])
				t.pos += 2
			case c == '"':
				t.pos++
				return token{kind: tokenAtom, text: atom.String(), pos: start}, nil
			default:
				atom.WriteByte(c)
				t.pos++
			}
		}
		return token{}, fmt.Errorf("unterminated quote at offset %d", start)
	}

	for t.pos < len(t.input) && !unicode.IsSpace(rune(t.input[t.pos])) {
		if _, _, ok := t.operatorAt(t.pos); ok {
			break
		}
		t.pos++
	}
	return token{kind: tokenAtom, text: t.input[start:t.pos], pos: start}, nil
}

// parser is a recursive descent parser, one method per precedence level.
type parser struct {
	t   tokenizer
	tok token
}

func (p *parser) advance() (err error) {
	p.tok, err = p.t.next()
	return
}

func (p *parser) binary(op tokenKind, operand func() (Expression, error)) (Expression, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == op {
		text := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: text, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseIff() (Expression, error) {
	return p.binary(tokenIff, p.parseImplies)
}

func (p *parser) parseImplies() (Expression, error) {
	return p.binary(tokenImplies, p.parseOr)
}

func (p *parser) parseOr() (Expression, error) {
	return p.binary(tokenOr, p.parseAnd)
}

func (p *parser) parseAnd() (Expression, error) {
	return p.binary(tokenAnd, p.parseNot)
}

func (p *parser) parseNot() (Expression, error) {
	if p.tok.kind != tokenNot {
		return p.parsePrimary()
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	inner, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return notExpr{inner}, nil
}

func (p *parser) parsePrimary() (Expression, error) {
	switch p.tok.kind {
	case tokenAtom:
		atom := atomExpr(p.tok.text)
		return atom, p.advance()

	case tokenOpen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseIff()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokenClose {
			return nil, fmt.Errorf("missing ')' at offset %d", p.tok.pos)
		}
		return parenExpr{inner}, p.advance()

	case tokenEOF:
		return nil, fmt.Errorf("unexpected end of expression")

	default:
		return nil, fmt.Errorf("unexpected '%s' at offset %d", p.tok.text, p.tok.pos)
	}
}
