package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func entitySection(id string, attrs ...Attribute) *Section {
	return NewSection("", "entity", []string{"heartbeat", id}, "test.hcl", attrs, nil)
}

func TestNewSection_Paths(t *testing.T) {
	child := NewSection("entity.A", "options", nil, "test.hcl", nil, nil)
	s := NewSection("", "entity", []string{"heartbeat", "A"}, "test.hcl", nil, []*Section{child})

	assert.Equal(t, "entity.A", s.Path)
	assert.Equal(t, "A", s.Name())
	assert.Equal(t, "entity.A.options", child.Path)
	assert.Equal(t, "options", child.Name())
}

func TestDocument_Section(t *testing.T) {
	child := NewSection("entity.A", "options", nil, "test.hcl", nil, nil)
	a := NewSection("", "entity", []string{"heartbeat", "A"}, "test.hcl", nil, []*Section{child})
	rt := NewSection("", "runtime", nil, "test.hcl", nil, nil)
	doc := NewDocument([]string{"test.hcl"}, []*Section{rt, a})

	t.Run("top-level", func(t *testing.T) {
		got, ok := doc.Section("entity.A")
		require.True(t, ok)
		assert.Same(t, a, got)
	})

	t.Run("nested", func(t *testing.T) {
		got, ok := doc.Section("entity.A.options")
		require.True(t, ok)
		assert.Same(t, child, got)
	})

	t.Run("missing path is absence, not an error", func(t *testing.T) {
		got, ok := doc.Section("entity.missing")
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("sections by kind keep declaration order", func(t *testing.T) {
		assert.Equal(t, []*Section{a}, doc.SectionsOfKind("entity"))
		assert.Equal(t, []*Section{rt, a}, doc.Sections())
	})
}

func TestSection_Equal(t *testing.T) {
	base := entitySection("A",
		Attribute{Name: "interval", Value: cty.StringVal("1s")},
		Attribute{Name: "depends_on", Value: cty.TupleVal([]cty.Value{cty.StringVal("B")})},
	)

	t.Run("same content in different attribute order", func(t *testing.T) {
		other := entitySection("A",
			Attribute{Name: "depends_on", Value: cty.TupleVal([]cty.Value{cty.StringVal("B")})},
			Attribute{Name: "interval", Value: cty.StringVal("1s")},
		)
		assert.True(t, base.Equal(other))
	})

	t.Run("changed value", func(t *testing.T) {
		other := entitySection("A",
			Attribute{Name: "interval", Value: cty.StringVal("2s")},
			Attribute{Name: "depends_on", Value: cty.TupleVal([]cty.Value{cty.StringVal("B")})},
		)
		assert.False(t, base.Equal(other))
	})

	t.Run("changed labels", func(t *testing.T) {
		other := NewSection("", "entity", []string{"echo", "A"}, "test.hcl", base.Attributes, nil)
		assert.False(t, base.Equal(other))
	})

	t.Run("changed child", func(t *testing.T) {
		c1 := NewSection("entity.A", "options", nil, "", []Attribute{{Name: "x", Value: cty.NumberIntVal(1)}}, nil)
		c2 := NewSection("entity.A", "options", nil, "", []Attribute{{Name: "x", Value: cty.NumberIntVal(2)}}, nil)
		s1 := NewSection("", "entity", []string{"heartbeat", "A"}, "", nil, []*Section{c1})
		s2 := NewSection("", "entity", []string{"heartbeat", "A"}, "", nil, []*Section{c2})
		assert.False(t, s1.Equal(s2))
		assert.True(t, s1.Equal(s1))
	})

	t.Run("nil handling", func(t *testing.T) {
		var nilSection *Section
		assert.False(t, base.Equal(nil))
		assert.True(t, nilSection.Equal(nil))
	})
}

func TestSection_Value(t *testing.T) {
	s := entitySection("A", Attribute{Name: "interval", Value: cty.StringVal("1s")})
	v := s.Value()
	require.True(t, v.Type().IsObjectType())
	assert.Equal(t, cty.StringVal("1s"), v.GetAttr("interval"))
}

func TestLoadError(t *testing.T) {
	cause := errors.New("unexpected token")
	err := error(&LoadError{Source: "main.hcl", Err: cause})

	assert.ErrorIs(t, err, ErrConfigLoad)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "failed to load configuration from main.hcl: unexpected token")

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "main.hcl", loadErr.Source)
}
