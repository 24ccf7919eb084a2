// Package filter implements the boolean query grammar shared by logical queries
// and the directory backend filter syntax:
//
//	filter := '(' comp ')' | comp
//	comp   := '&' filter+ | '|' filter+ | '!' filter | item
//	item   := attr op value
//	op     := '=*' | '=' | '~=' | '>=' | '<='
//
// A parsed filter is an explicit tree of Leaf, And, Or and Not nodes. Translate
// rewrites the leaves of a logical tree into wire clauses; String renders a tree in
// backend syntax; Match evaluates a tree against wire attributes.
package filter

import (
	"fmt"
	"strings"
)

// Op is a leaf comparison operator.
type Op int

const (
	OpEqual Op = iota
	OpApprox
	OpGreaterOrEqual
	OpLessOrEqual
	OpPresent
)

// String returns the operator as written in filter text.
func (o Op) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpApprox:
		return "~="
	case OpGreaterOrEqual:
		return ">="
	case OpLessOrEqual:
		return "<="
	case OpPresent:
		return "=*"
	default:
		return "?"
	}
}

// Node is a filter tree node. The set of implementations is closed: *Leaf, *And,
// *Or and *Not.
type Node interface {
	String() string
	isNode()
}

// Leaf is a single attribute comparison. For OpEqual, '*' in Value acts as a
// substring wildcard. Value is held unescaped, except that an escaped star (\2a)
// is kept as LiteralStar so it survives translation as a plain character.
type Leaf struct {
	Attr  string
	Op    Op
	Value string
}

// And matches when every child matches.
type And struct {
	Children []Node
}

// Or matches when any child matches.
type Or struct {
	Children []Node
}

// Not inverts its child.
type Not struct {
	Child Node
}

func (*Leaf) isNode() {}
func (*And) isNode()  {}
func (*Or) isNode()   {}
func (*Not) isNode()  {}

// LiteralStar marks a '*' that matches itself rather than any substring.
const LiteralStar = "\uffff"

// Literal quotes every '*' in s as LiteralStar, for exact matches on values such
// as "CN=*.example.com".
func Literal(s string) string { return strings.ReplaceAll(s, "*", LiteralStar) }

// Plain returns v with every LiteralStar turned back into '*'.
func Plain(v string) string { return strings.ReplaceAll(v, LiteralStar, "*") }

// Eq builds an equality leaf.
func Eq(attr, value string) *Leaf { return &Leaf{Attr: attr, Op: OpEqual, Value: value} }

// GE builds a greater-or-equal leaf.
func GE(attr, value string) *Leaf { return &Leaf{Attr: attr, Op: OpGreaterOrEqual, Value: value} }

// LE builds a less-or-equal leaf.
func LE(attr, value string) *Leaf { return &Leaf{Attr: attr, Op: OpLessOrEqual, Value: value} }

// Present builds a presence leaf.
func Present(attr string) *Leaf { return &Leaf{Attr: attr, Op: OpPresent} }

// AndOf builds a conjunction. A single child is returned unwrapped.
func AndOf(children ...Node) Node {
	if len(children) == 1 {
		return children[0]
	}
	return &And{Children: children}
}

// OrOf builds a disjunction. A single child is returned unwrapped.
func OrOf(children ...Node) Node {
	if len(children) == 1 {
		return children[0]
	}
	return &Or{Children: children}
}

// NotOf builds a negation.
func NotOf(child Node) Node { return &Not{Child: child} }

func (l *Leaf) String() string {
	if l.Op == OpPresent {
		return "(" + l.Attr + "=*)"
	}
	return "(" + l.Attr + l.Op.String() + escapeValue(l.Value) + ")"
}

func (a *And) String() string { return "(&" + joinNodes(a.Children) + ")" }

func (o *Or) String() string { return "(|" + joinNodes(o.Children) + ")" }

func (n *Not) String() string { return "(!" + n.Child.String() + ")" }

func joinNodes(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.String())
	}
	return b.String()
}

// escapeValue hex-escapes the characters that would break re-parsing, a literal
// star and trailing blanks. A wildcard '*' is left alone.
func escapeValue(v string) string {
	body := strings.TrimRight(v, " \t\r\n")
	trailing := v[len(body):]
	if trailing == "" && !strings.ContainsAny(body, "()\\\x00"+LiteralStar) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if strings.HasPrefix(body[i:], LiteralStar) {
			b.WriteString(`\2a`)
			i += len(LiteralStar) - 1
			continue
		}
		switch c := body[i]; c {
		case '(':
			b.WriteString(`\28`)
		case ')':
			b.WriteString(`\29`)
		case '\\':
			b.WriteString(`\5c`)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(c)
		}
	}
	for i := 0; i < len(trailing); i++ {
		fmt.Fprintf(&b, `\%02x`, trailing[i])
	}
	return b.String()
}
