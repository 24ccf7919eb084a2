package filter

import (
	"errors"
	"fmt"
	"strings"

	"certstore/pkg/platform/sentinel"
)

// ObjectClassAttr is the pseudo attribute whose equality clauses name a record
// type rather than a single wire class.
const ObjectClassAttr = "objectclass"

// Resolver rewrites logical leaves into wire clauses. The schema registry is the
// production implementation.
type Resolver interface {
	// TranslateClause rewrites a single comparison. attr may carry a dotted
	// sub-field suffix, e.g. "cert.notBefore".
	TranslateClause(attr string, op Op, value string) (Node, error)
	// ObjectClassClause expands a record type name to a clause over its wire
	// object classes.
	ObjectClassClause(recordType string) (Node, error)
}

// Translate rewrites every leaf of a logical tree through the resolver, keeping
// the And/Or/Not nesting exactly. The first leaf that cannot be translated fails
// the whole translation with an error wrapping sentinel.ErrInvalidFilter.
func Translate(n Node, r Resolver) (Node, error) {
	switch n := n.(type) {
	case *Leaf:
		return translateLeaf(n, r)
	case *And:
		children, err := translateAll(n.Children, r)
		if err != nil {
			return nil, err
		}
		return &And{Children: children}, nil
	case *Or:
		children, err := translateAll(n.Children, r)
		if err != nil {
			return nil, err
		}
		return &Or{Children: children}, nil
	case *Not:
		child, err := Translate(n.Child, r)
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	default:
		return nil, fmt.Errorf("%w: unknown node %T", sentinel.ErrInvalidFilter, n)
	}
}

// Compile parses logical filter text and translates it in one step.
func Compile(text string, r Resolver) (Node, error) {
	n, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Translate(n, r)
}

func translateAll(nodes []Node, r Resolver) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, child := range nodes {
		t, err := Translate(child, r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func translateLeaf(l *Leaf, r Resolver) (Node, error) {
	var (
		out Node
		err error
	)
	if strings.EqualFold(l.Attr, ObjectClassAttr) && l.Op == OpEqual {
		out, err = r.ObjectClassClause(l.Value)
	} else {
		out, err = r.TranslateClause(l.Attr, l.Op, l.Value)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidFilter) {
			return nil, fmt.Errorf("translate %s: %w", l, err)
		}
		return nil, fmt.Errorf("translate %s: %w: %w", l, sentinel.ErrInvalidFilter, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: no translation for %s", sentinel.ErrInvalidFilter, l)
	}
	return out, nil
}
