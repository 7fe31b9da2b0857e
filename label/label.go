// Package label parses capability labels carried by templates and the label
// expressions used to ask for them.
//
// A label set is a whitespace separated list of atoms ("linux docker jdk17").
// An expression combines atoms with !, &&, ||, -> and <->, in decreasing order
// of precedence, and parentheses. Atoms containing operator characters or
// spaces can be double-quoted.
package label

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

type Atom string

type Set map[Atom]struct{}

// ParseSet splits a label string on whitespace. Double-quoted atoms may contain spaces.
func ParseSet(labels string) Set {
	set := Set{}
	var atom strings.Builder
	quoted, pending := false, false
	flush := func() {
		if pending {
			set[Atom(atom.String())] = struct{}{}
		}
		atom.Reset()
		pending = false
	}

	for _, r := range labels {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			atom.WriteRune(r)
			pending = true
		}
	}
	flush()

	delete(set, "")
	return set
}

func NewSet(atoms ...string) Set {
	return lo.SliceToMap(atoms, func(a string) (Atom, struct{}) {
		return Atom(a), struct{}{}
	})
}

func (s Set) Contains(a Atom) bool {
	_, ok := s[a]
	return ok
}

func (s Set) Atoms() []string {
	atoms := lo.Map(lo.Keys(s), func(a Atom, _ int) string { return string(a) })
	sort.Strings(atoms)
	return atoms
}

func (s Set) String() string {
	return strings.Join(s.Atoms(), " ")
}

// Expression is a parsed label expression.
// A nil Expression stands for "no label requested" and matches everything, see Matches.
type Expression interface {
	Matches(set Set) bool
	String() string
}

// Matches reports whether expr matches set, treating a nil expression as a wildcard.
func Matches(expr Expression, set Set) bool {
	if expr == nil {
		return true
	}
	return expr.Matches(set)
}

// String renders expr, "" for a nil expression.
func String(expr Expression) string {
	if expr == nil {
		return ""
	}
	return expr.String()
}

// Parse parses a label expression. A blank input yields a nil expression.
func Parse(input string) (Expression, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	p := &parser{t: tokenizer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	expr, err := p.parseIff()
	if err != nil {
		return nil, fmt.Errorf("invalid label expression '%s': %w", input, err)
	}
	if p.tok.kind != tokenEOF {
		return nil, fmt.Errorf("invalid label expression '%s': unexpected '%s' at offset %d", input, p.tok.text, p.tok.pos)
	}
	return expr, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string) Expression {
	return lo.Must(Parse(input))
}

type atomExpr Atom

func (e atomExpr) Matches(set Set) bool { return set.Contains(Atom(e)) }
func (e atomExpr) String() string {
	if needsQuotes(string(e)) {
		return `"` + atomEscaper.Replace(string(e)) + `"`
	}
	return string(e)
}

// atomEscaper produces the only escapes the tokenizer undoes inside quotes.
var atomEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// needsQuotes reports whether the tokenizer would split or misread a bare atom.
func needsQuotes(atom string) bool {
	if atom == "" {
		return true
	}
	for i := 0; i < len(atom); i++ {
		if unicode.IsSpace(rune(atom[i])) || strings.IndexByte(`()!&|<>-"`, atom[i]) >= 0 {
			return true
		}
	}
	return false
}

type notExpr struct{ inner Expression }

func (e notExpr) Matches(set Set) bool { return !e.inner.Matches(set) }
func (e notExpr) String() string       { return "!" + e.inner.String() }

type parenExpr struct{ inner Expression }

func (e parenExpr) Matches(set Set) bool { return e.inner.Matches(set) }
func (e parenExpr) String() string       { return "(" + e.inner.String() + ")" }

type binaryExpr struct {
	op          string
	left, right Expression
}

func (e binaryExpr) Matches(set Set) bool {
	l, r := e.left.Matches(set), e.right.Matches(set)
	switch e.op {
	case "&&":
		return l && r
	case "||":
		return l || r
	case "->":
		return !l || r
	case "<->":
		return l == r
	}
	return false
}

func (e binaryExpr) String() string {
	return e.left.String() + e.op + e.right.String()
}
