package schema

import (
	"fmt"
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

type widget struct {
	Serial  *big.Int
	Name    string
	Tags    []string
	Created time.Time
	Count   int64
}

func (*widget) RecordType() string { return "widget" }

func (w *widget) Field(name string) any {
	switch name {
	case "serial":
		if w.Serial == nil {
			return nil
		}
		return w.Serial
	case "name":
		if w.Name == "" {
			return nil
		}
		return w.Name
	case "tags":
		if len(w.Tags) == 0 {
			return nil
		}
		return w.Tags
	case "created":
		if w.Created.IsZero() {
			return nil
		}
		return w.Created
	case "count":
		return w.Count
	}
	return nil
}

func (w *widget) SetField(name string, v any) error {
	var ok bool
	switch name {
	case "serial":
		w.Serial, ok = v.(*big.Int)
	case "name":
		w.Name, ok = v.(string)
	case "tags":
		w.Tags, ok = v.([]string)
	case "created":
		w.Created, ok = v.(time.Time)
	case "count":
		w.Count, ok = v.(int64)
	}
	if !ok {
		return fmt.Errorf("widget %s: %w", name, sentinel.ErrSerialization)
	}
	return nil
}

type prefixFamily struct{}

func (prefixFamily) For(name string) (Mapper, bool) {
	field, sub := SplitField(name)
	if field != "label" || sub == "" {
		return nil, false
	}
	return StringMapper{Attr: "label-" + sub}, true
}

type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	r, err := NewBuilder().
		Register(RecordType{
			Name:    "widget",
			Classes: []string{"top", "widgetEntry"},
			Fields:  []string{"serial", "name", "tags", "created", "count"},
			New:     func() Record { return &widget{} },
		}).
		RegisterAttribute("serial", BigIntegerMapper{Attr: "serialno"}).
		RegisterAttribute("name", StringMapper{Attr: "cn"}).
		RegisterAttribute("tags", StringListMapper{Attr: "tag"}).
		RegisterAttribute("created", DateMapper{Attr: "createTimestamp"}).
		RegisterAttribute("count", IntegerMapper{Attr: "counter"}).
		RegisterDynamicMapper(prefixFamily{}).
		Build()
	s.Require().NoError(err)
	s.registry = r
}

func (s *RegistrySuite) TestRoundTrip() {
	in := &widget{
		Serial:  big.NewInt(4242),
		Name:    "gizmo",
		Tags:    []string{"a", "b"},
		Created: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Count:   7,
	}
	attrs, err := s.registry.EncodeRecord(in)
	s.Require().NoError(err)
	s.Equal([]string{"top", "widgetEntry"}, attrs.Get("objectClass"))
	s.Equal([]string{"044242"}, attrs.Get("serialno"))
	s.Equal([]string{"20240301123000Z"}, attrs.Get("createtimestamp"))

	out, err := s.registry.DecodeRecord(attrs)
	s.Require().NoError(err)
	s.Equal(in, out)
}

func (s *RegistrySuite) TestDecodeIgnoresClassOrderAndCase() {
	attrs := directory.Attributes{}
	attrs.Set("objectClass", "WIDGETENTRY", "Top")
	attrs.Set("cn", "x")
	rec, err := s.registry.DecodeRecord(attrs)
	s.Require().NoError(err)
	s.Equal("x", rec.(*widget).Name)
}

func (s *RegistrySuite) TestDecodeUnknownClasses() {
	attrs := directory.Attributes{}
	attrs.Set("objectClass", "top", "person")
	_, err := s.registry.DecodeRecord(attrs)
	s.ErrorIs(err, sentinel.ErrSchema)

	_, err = s.registry.DecodeRecord(directory.Attributes{})
	s.ErrorIs(err, sentinel.ErrSchema)
}

func (s *RegistrySuite) TestMapperResolution() {
	s.Run("exact", func() {
		m, err := s.registry.Mapper("name")
		s.Require().NoError(err)
		s.Equal(StringMapper{Attr: "cn"}, m)
	})
	s.Run("dot prefix", func() {
		m, err := s.registry.Mapper("created.anything")
		s.Require().NoError(err)
		s.Equal(DateMapper{Attr: "createTimestamp"}, m)
	})
	s.Run("dynamic", func() {
		m, err := s.registry.Mapper("label.color")
		s.Require().NoError(err)
		s.Equal(StringMapper{Attr: "label-color"}, m)
	})
	s.Run("unknown", func() {
		_, err := s.registry.Mapper("missing")
		s.ErrorIs(err, sentinel.ErrSchema)
	})
}

func (s *RegistrySuite) TestResolveProjection() {
	attrs, err := s.registry.ResolveProjection([]string{"name", "serial", "name"})
	s.Require().NoError(err)
	s.Equal([]string{"objectClass", "cn", "serialno"}, attrs)

	attrs, err = s.registry.ResolveProjection(nil)
	s.Require().NoError(err)
	s.Nil(attrs)

	_, err = s.registry.ResolveProjection([]string{"bogus"})
	s.ErrorIs(err, sentinel.ErrSchema)
}

func (s *RegistrySuite) TestTranslate() {
	n, err := filter.Compile("(&(objectclass=widget)(serial>=0x10)(!(name=g*)))", s.registry)
	s.Require().NoError(err)
	s.Equal("(&(|(objectClass=top)(objectClass=widgetEntry))(serialno>=0216)(!(cn=g*)))", n.String())

	_, err = filter.Compile("(nope=1)", s.registry)
	s.ErrorIs(err, sentinel.ErrInvalidFilter)

	_, err = filter.Compile("(serial=abc)", s.registry)
	s.ErrorIs(err, sentinel.ErrInvalidFilter)
}

func (s *RegistrySuite) TestSortAndAnchor() {
	attr, err := s.registry.SortAttribute("serial")
	s.Require().NoError(err)
	s.Equal("serialno", attr)

	v, err := s.registry.EncodeAnchor("created", "2024-01-02T03:04:05Z")
	s.Require().NoError(err)
	s.Equal("20240102030405Z", v)
}

func (s *RegistrySuite) TestEncodeDelta() {
	mods, err := s.registry.EncodeDelta("name", directory.ModReplace, "new")
	s.Require().NoError(err)
	s.Equal([]directory.Modification{{Op: directory.ModReplace, Attr: "cn", Values: []string{"new"}}}, mods)

	mods, err = s.registry.EncodeDelta("tags", directory.ModDelete, nil)
	s.Require().NoError(err)
	s.Equal([]directory.Modification{{Op: directory.ModDelete, Attr: "tag"}}, mods)

	_, err = s.registry.EncodeDelta("name", directory.ModAdd, nil)
	s.ErrorIs(err, sentinel.ErrSerialization)

	_, err = s.registry.EncodeDelta("name", directory.ModAdd, 12)
	s.ErrorIs(err, sentinel.ErrSerialization)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	rt := RecordType{Name: "w", Classes: []string{"a", "B"}, New: func() Record { return &widget{} }}
	_, err := NewBuilder().
		Register(rt).
		Register(RecordType{Name: "v", Classes: []string{"b", "A"}, New: rt.New}).
		Build()
	require.ErrorIs(t, err, sentinel.ErrSchema)

	_, err = NewBuilder().
		RegisterAttribute("x", StringMapper{Attr: "x"}).
		RegisterAttribute("x", StringMapper{Attr: "y"}).
		Build()
	require.ErrorIs(t, err, sentinel.ErrSchema)
}

func TestIntegerEncodingPreservesOrder(t *testing.T) {
	values := []int64{0, 5, 9, 10, 99, 100, 12345, 999999999, 1000000000, 98765432109}
	encoded := make([]string, len(values))
	for i, v := range values {
		s, err := EncodeInt64(v)
		require.NoError(t, err)
		encoded[i] = s

		back, err := DecodeInt64(s)
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}
	assert.True(t, sort.StringsAreSorted(encoded), "encodings out of order: %v", encoded)
	assert.Equal(t, "010", encoded[0])
	assert.Equal(t, "1198765432109", encoded[len(encoded)-1])

	_, err := EncodeInt64(-1)
	assert.ErrorIs(t, err, sentinel.ErrSerialization)
	_, err = DecodeBigInt("0512")
	assert.ErrorIs(t, err, sentinel.ErrSerialization)
}

func TestBigIntegerRoundTrip(t *testing.T) {
	n, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	s, err := EncodeBigInt(n)
	require.NoError(t, err)
	assert.Equal(t, "30123456789012345678901234567890", s)

	back, err := DecodeBigInt(s)
	require.NoError(t, err)
	assert.Equal(t, 0, n.Cmp(back))
}

func TestDateEncodingPreservesOrder(t *testing.T) {
	base := time.Date(1999, 12, 31, 23, 59, 59, 0, time.FixedZone("X", 3600))
	var prev string
	for i := 0; i < 5; i++ {
		s, err := EncodeDate(base.Add(time.Duration(i) * 37 * time.Hour))
		require.NoError(t, err)
		assert.Greater(t, s, prev)
		prev = s

		back, err := DecodeDate(s)
		require.NoError(t, err)
		assert.True(t, back.Equal(base.Add(time.Duration(i)*37*time.Hour)))
	}
	first, _ := EncodeDate(base)
	assert.Equal(t, "19991231225959Z", first)

	ms, err := ParseDate("946684800000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), ms)
}
