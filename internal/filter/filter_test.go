package filter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certstore/pkg/platform/sentinel"
)

func TestParse(t *testing.T) {
	t.Run("single item with and without parentheses", func(t *testing.T) {
		for _, text := range []string{"(status=VALID)", "status=VALID", " ( status=VALID ) "} {
			n, err := Parse(text)
			require.NoError(t, err, text)
			assert.Equal(t, Eq("status", "VALID"), n)
		}
	})

	t.Run("all operators", func(t *testing.T) {
		cases := map[string]*Leaf{
			"(a=*)":    Present("a"),
			"(a=1)":    Eq("a", "1"),
			"(a~=x y)": {Attr: "a", Op: OpApprox, Value: "x y"},
			"(a>=5)":   GE("a", "5"),
			"(a<=5)":   LE("a", "5"),
			"(a=x*y)":  Eq("a", "x*y"),
			"(a=x )":   Eq("a", "x"),
			`(a=x\20)`: Eq("a", "x "),
		}
		for text, want := range cases {
			n, err := Parse(text)
			require.NoError(t, err, text)
			assert.Equal(t, want, n, text)
		}
	})

	t.Run("nested composites", func(t *testing.T) {
		n, err := Parse("(&(status=VALID)(|(a=1)(!(b=2)))(c>=3))")
		require.NoError(t, err)
		want := &And{Children: []Node{
			Eq("status", "VALID"),
			&Or{Children: []Node{Eq("a", "1"), &Not{Child: Eq("b", "2")}}},
			GE("c", "3"),
		}}
		assert.Equal(t, want, n)
	})

	t.Run("bare composite at top level", func(t *testing.T) {
		n, err := Parse("&(a=1)(b=2)")
		require.NoError(t, err)
		assert.Equal(t, &And{Children: []Node{Eq("a", "1"), Eq("b", "2")}}, n)
	})

	t.Run("decodes hex escapes", func(t *testing.T) {
		n, err := Parse(`(cn=a\28b\29)`)
		require.NoError(t, err)
		assert.Equal(t, Eq("cn", "a(b)"), n)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, text := range []string{
			"",
			"(a=1",
			"(a=1))",
			"((a=1)",
			"(&)",
			"(!)",
			"(=1)",
			"(a)",
			"(a>1)",
			"(a=1)(b=2)",
			`(a=\2)`,
			`(a=\zz)`,
		} {
			_, err := Parse(text)
			require.Error(t, err, text)
			assert.ErrorIs(t, err, sentinel.ErrInvalidFilter, text)
		}
	})
}

func TestStringRoundTrip(t *testing.T) {
	for _, text := range []string{
		"(status=VALID)",
		"(&(a=1)(b>=2)(c<=3))",
		"(|(a=*)(!(b~=x)))",
		`(cn=a\28b\29*)`,
		`(cn=\2a.example.com)`,
		`(cn=x\20)`,
	} {
		n, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, text, n.String())

		again, err := Parse(n.String())
		require.NoError(t, err)
		assert.Equal(t, n, again)
	}
}

// upperResolver rewrites attr names to upper case and prefixes values, so the
// structure of the output can be compared against the input.
type upperResolver struct {
	classes map[string][]string
	reject  string
}

func (r upperResolver) TranslateClause(attr string, op Op, value string) (Node, error) {
	if attr == r.reject {
		return nil, errors.New("unknown attribute")
	}
	return &Leaf{Attr: strings.ToUpper(attr), Op: op, Value: "w:" + value}, nil
}

func (r upperResolver) ObjectClassClause(recordType string) (Node, error) {
	classes, ok := r.classes[recordType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type %q", sentinel.ErrInvalidFilter, recordType)
	}
	var children []Node
	for _, c := range classes {
		children = append(children, Eq("objectClass", c))
	}
	return &Or{Children: children}, nil
}

func TestTranslate(t *testing.T) {
	r := upperResolver{
		classes: map[string][]string{"certificateRecord": {"top", "certificateRecord"}},
		reject:  "bogus",
	}

	t.Run("preserves structure", func(t *testing.T) {
		l1, l2 := Eq("a", "1"), GE("b", "2")
		t1, err := Translate(l1, r)
		require.NoError(t, err)
		t2, err := Translate(l2, r)
		require.NoError(t, err)

		and, err := Translate(&And{Children: []Node{l1, l2}}, r)
		require.NoError(t, err)
		assert.Equal(t, &And{Children: []Node{t1, t2}}, and)

		or, err := Translate(&Or{Children: []Node{l1, l2}}, r)
		require.NoError(t, err)
		assert.Equal(t, &Or{Children: []Node{t1, t2}}, or)

		not, err := Translate(&Not{Child: l1}, r)
		require.NoError(t, err)
		assert.Equal(t, &Not{Child: t1}, not)
	})

	t.Run("expands objectclass pseudo equality", func(t *testing.T) {
		n, err := Compile("(&(objectclass=certificateRecord)(a=1))", r)
		require.NoError(t, err)
		assert.Equal(t, "(&(|(objectClass=top)(objectClass=certificateRecord))(A=w:1))", n.String())
	})

	t.Run("one failing leaf fails the build", func(t *testing.T) {
		_, err := Compile("(|(a=1)(!(bogus=2)))", r)
		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel.ErrInvalidFilter)

		_, err = Compile("(objectclass=nosuchtype)", r)
		assert.ErrorIs(t, err, sentinel.ErrInvalidFilter)
	})
}

type attrs map[string][]string

func (a attrs) Get(name string) []string { return a[strings.ToLower(name)] }

func TestMatch(t *testing.T) {
	entry := attrs{
		"certstatus":  {"VALID"},
		"serialno":    {"0212"},
		"metainfo":    {"requestId:7", "published:true"},
		"subjectname": {"CN=Server One, O=Example"},
	}

	cases := []struct {
		filter string
		want   bool
	}{
		{"(certStatus=valid)", true},
		{"(certStatus=REVOKED)", false},
		{"(serialno>=0210)", true},
		{"(serialno<=0210)", false},
		{"(serialno=*)", true},
		{"(revInfo=*)", false},
		{"(metaInfo=requestId:*)", true},
		{"(metaInfo=*:true)", true},
		{"(subjectName=*server*)", true},
		{"(subjectName~=cn=server one,o=example)", true},
		{"(&(certStatus=VALID)(!(metaInfo=published:true)))", false},
		{"(|(certStatus=REVOKED)(serialno=0212))", true},
	}
	for _, tc := range cases {
		n, err := Parse(tc.filter)
		require.NoError(t, err, tc.filter)
		assert.Equal(t, tc.want, Match(n, entry), tc.filter)
	}
}

func TestLiteralStar(t *testing.T) {
	n, err := Parse(`(subjectName=CN=\2a.example.com)`)
	require.NoError(t, err)
	assert.Equal(t, Eq("subjectName", Literal("CN=*.example.com")), n)
	assert.Equal(t, "CN=*.example.com", Plain(n.(*Leaf).Value))

	wildcardCert := attrs{"subjectname": {"CN=*.example.com"}}
	hostCert := attrs{"subjectname": {"CN=www.example.com"}}
	assert.True(t, Match(n, wildcardCert))
	assert.False(t, Match(n, hostCert))

	pattern, err := Parse(`(subjectName=CN=*.example.com)`)
	require.NoError(t, err)
	assert.True(t, Match(pattern, wildcardCert))
	assert.True(t, Match(pattern, hostCert))

	mixed, err := Parse(`(subjectName=*\2a*)`)
	require.NoError(t, err)
	assert.True(t, Match(mixed, wildcardCert))
	assert.False(t, Match(mixed, hostCert))
}

func TestWildcardMatch(t *testing.T) {
	assert.True(t, wildcardMatch("a*", "abc"))
	assert.True(t, wildcardMatch("*c", "abc"))
	assert.True(t, wildcardMatch("a*b*c", "aXbYc"))
	assert.False(t, wildcardMatch("ab*b", "ab"))
	assert.False(t, wildcardMatch("a*c*b", "abc"))
}
