package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

// query accumulates positional arguments while SQL fragments are built.
type query struct {
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// scope restricts rows to base and the entries beneath it.
func (q *query) scope(base string) string {
	if base == "" {
		return "TRUE"
	}
	b := q.arg(dnKey(base))
	return fmt.Sprintf("(dn_key = %s OR right(dn_key, length(%s) + 1) = ',' || %s)", b, b, b)
}

// where renders a wire filter as a boolean SQL expression over the attrs column.
// The semantics follow filter.Match: equality ignores case and honours '*'
// wildcards, ordering compares bytes.
func (q *query) where(n filter.Node) (string, error) {
	if n == nil {
		return "TRUE", nil
	}
	switch n := n.(type) {
	case *filter.Leaf:
		return q.leaf(n)
	case *filter.And:
		return q.join(n.Children, " AND ")
	case *filter.Or:
		return q.join(n.Children, " OR ")
	case *filter.Not:
		inner, err := q.where(n.Child)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported filter node %T: %w", n, sentinel.ErrInvalidFilter)
	}
}

func (q *query) join(children []filter.Node, sep string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		part, err := q.where(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (q *query) leaf(l *filter.Leaf) (string, error) {
	attr := q.arg(strings.ToLower(l.Attr))
	if l.Op == filter.OpPresent {
		return fmt.Sprintf("(attrs ? %s)", attr), nil
	}

	var cond string
	switch l.Op {
	case filter.OpEqual:
		if strings.Contains(l.Value, "*") {
			cond = "lower(v) LIKE " + q.arg(likePattern(l.Value)) + ` ESCAPE '\'`
		} else {
			cond = "lower(v) = " + q.arg(strings.ToLower(filter.Plain(l.Value)))
		}
	case filter.OpApprox:
		cond = `lower(regexp_replace(v, '\s', '', 'g')) = ` + q.arg(normalizeApprox(filter.Plain(l.Value)))
	case filter.OpGreaterOrEqual:
		cond = `v COLLATE "C" >= ` + q.arg(filter.Plain(l.Value))
	case filter.OpLessOrEqual:
		cond = `v COLLATE "C" <= ` + q.arg(filter.Plain(l.Value))
	default:
		return "", fmt.Errorf("unsupported operator %s: %w", l.Op, sentinel.ErrInvalidFilter)
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements_text(attrs -> %s) AS v WHERE %s)", attr, cond), nil
}

// likePattern turns a '*' wildcard pattern into a lower-cased LIKE pattern.
func likePattern(pattern string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(pattern) {
		switch r {
		case literalStar:
			b.WriteRune('*')
		case '%', '_', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '*':
			b.WriteRune('%')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var literalStar = []rune(filter.LiteralStar)[0]

func normalizeApprox(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// sortValue is the SQL expression of an entry's first value of attr.
func (q *query) sortValue(attr string) string {
	return fmt.Sprintf(`((attrs -> %s) ->> 0) COLLATE "C"`, q.arg(strings.ToLower(attr)))
}

func dnKey(dn string) string { return strings.ToLower(strings.TrimSpace(dn)) }
