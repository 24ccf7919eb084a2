package filter

import (
	"strings"
)

// Getter exposes multi-valued wire attributes by case-insensitive name.
type Getter interface {
	Get(name string) []string
}

// Match evaluates a wire filter against an entry's attributes.
//
// Equality is case-insensitive and honours '*' wildcards; approximate match also
// ignores whitespace; ordering comparisons are plain byte-wise string comparisons,
// which is what the numeric and date wire encodings are designed for.
func Match(n Node, attrs Getter) bool {
	switch n := n.(type) {
	case *Leaf:
		return matchLeaf(n, attrs.Get(n.Attr))
	case *And:
		for _, c := range n.Children {
			if !Match(c, attrs) {
				return false
			}
		}
		return true
	case *Or:
		for _, c := range n.Children {
			if Match(c, attrs) {
				return true
			}
		}
		return false
	case *Not:
		return !Match(n.Child, attrs)
	default:
		return false
	}
}

func matchLeaf(l *Leaf, values []string) bool {
	if l.Op == OpPresent {
		return len(values) > 0
	}
	for _, v := range values {
		switch l.Op {
		case OpEqual:
			if strings.Contains(l.Value, "*") {
				if wildcardMatch(l.Value, v) {
					return true
				}
			} else if strings.EqualFold(v, Plain(l.Value)) {
				return true
			}
		case OpApprox:
			if normalizeApprox(v) == normalizeApprox(Plain(l.Value)) {
				return true
			}
		case OpGreaterOrEqual:
			if v >= Plain(l.Value) {
				return true
			}
		case OpLessOrEqual:
			if v <= Plain(l.Value) {
				return true
			}
		}
	}
	return false
}

// wildcardMatch reports whether value matches a '*' substring pattern,
// case-insensitively. LiteralStar in the pattern matches a plain '*'.
func wildcardMatch(pattern, value string) bool {
	value = strings.ToLower(value)
	parts := strings.Split(strings.ToLower(pattern), "*")
	for i := range parts {
		parts[i] = Plain(parts[i])
	}

	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]

	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]
	for _, part := range middle {
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return strings.HasSuffix(value, last)
}

func normalizeApprox(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
