package filter

import (
	"fmt"
	"strings"

	"certstore/pkg/platform/sentinel"
)

// Parse parses filter text into a tree. Any syntax error, including unbalanced
// parentheses or trailing input, wraps sentinel.ErrInvalidFilter.
func Parse(text string) (Node, error) {
	p := &parser{src: text}
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("empty filter")
	}
	n, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after filter", p.src[p.pos:])
	}
	return n, nil
}

// MustParse is Parse for filter templates known to be valid. It panics on error.
func MustParse(text string) Node {
	n, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n') {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", sentinel.ErrInvalidFilter, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseFilter() (Node, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("expected filter")
	}
	if p.peek() != '(' {
		return p.parseComp()
	}
	p.pos++
	n, err := p.parseComp()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.eof() || p.peek() != ')' {
		return nil, p.errorf("missing ')'")
	}
	p.pos++
	return n, nil
}

func (p *parser) parseComp() (Node, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("expected expression")
	}
	switch p.peek() {
	case '&':
		p.pos++
		children, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &And{Children: children}, nil
	case '|':
		p.pos++
		children, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &Or{Children: children}, nil
	case '!':
		p.pos++
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	default:
		return p.parseItem()
	}
}

// parseList reads one or more parenthesized filters.
func (p *parser) parseList() ([]Node, error) {
	var children []Node
	for {
		p.skipSpace()
		if p.eof() || p.peek() != '(' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, p.errorf("operator requires at least one operand")
	}
	return children, nil
}

func (p *parser) parseItem() (Node, error) {
	start := p.pos
	for !p.eof() && !strings.ContainsRune("=~<>()", rune(p.peek())) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}
	if p.eof() {
		return nil, p.errorf("missing operator after %q", attr)
	}

	var op Op
	switch p.peek() {
	case '=':
		op = OpEqual
		p.pos++
	case '~', '>', '<':
		c := p.peek()
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, p.errorf("malformed operator after %q", attr)
		}
		p.pos += 2
		switch c {
		case '~':
			op = OpApprox
		case '>':
			op = OpGreaterOrEqual
		default:
			op = OpLessOrEqual
		}
	default:
		return nil, p.errorf("missing operator after %q", attr)
	}

	start = p.pos
	for !p.eof() && p.peek() != ')' && p.peek() != '(' {
		p.pos++
	}
	// Trailing blanks before ')' are layout; a value ending in a space spells it \20.
	raw := strings.TrimRight(p.src[start:p.pos], " \t\r\n")
	if op == OpEqual && raw == "*" {
		return &Leaf{Attr: attr, Op: OpPresent}, nil
	}
	value, err := unescapeValue(raw)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	return &Leaf{Attr: attr, Op: op, Value: value}, nil
}

func unescapeValue(raw string) (string, error) {
	if !strings.Contains(raw, `\`) {
		return raw, nil
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' {
			b.WriteByte(raw[i])
			continue
		}
		if i+2 >= len(raw) {
			return "", fmt.Errorf("truncated escape in %q", raw)
		}
		hi, ok1 := fromHex(raw[i+1])
		lo, ok2 := fromHex(raw[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("bad escape in %q", raw)
		}
		if c := hi<<4 | lo; c == '*' {
			b.WriteString(LiteralStar)
		} else {
			b.WriteByte(c)
		}
		i += 2
	}
	return b.String(), nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
