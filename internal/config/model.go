package config

import (
	"slices"

	"github.com/zclconf/go-cty/cty"
)

// Attribute is a single evaluated key/value pair of a section.
type Attribute struct {
	Name  string
	Value cty.Value
}

// Section is a named node of the configuration tree. Attributes keep the
// order in which they were declared.
type Section struct {
	Kind       string
	Labels     []string
	Path       string
	Source     string
	Attributes []Attribute
	Children   []*Section
}

// NewSection builds a section below parentPath. An empty parentPath makes it
// a top-level section.
func NewSection(parentPath, kind string, labels []string, source string, attrs []Attribute, children []*Section) *Section {
	s := &Section{
		Kind:       kind,
		Labels:     labels,
		Source:     source,
		Attributes: attrs,
		Children:   children,
	}
	s.Path = SectionPath(parentPath, kind, labels)
	return s
}

// SectionPath returns the path of a section of the given kind and labels
// below parentPath: the kind alone, or the kind followed by the last label.
func SectionPath(parentPath, kind string, labels []string) string {
	element := kind
	if len(labels) > 0 {
		element = kind + "." + labels[len(labels)-1]
	}
	if parentPath == "" {
		return element
	}
	return parentPath + "." + element
}

// Name is the last label of the section, or its kind when it has none.
func (s *Section) Name() string {
	if len(s.Labels) == 0 {
		return s.Kind
	}
	return s.Labels[len(s.Labels)-1]
}

func (s *Section) element() string {
	return SectionPath("", s.Kind, s.Labels)
}

// Attr returns the value of the named attribute.
func (s *Section) Attr(name string) (cty.Value, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return cty.NilVal, false
}

// Value returns the section content as a single cty object: attributes by
// name and child sections by their path element.
func (s *Section) Value() cty.Value {
	vals := make(map[string]cty.Value, len(s.Attributes)+len(s.Children))
	for _, a := range s.Attributes {
		vals[a.Name] = a.Value
	}
	for _, c := range s.Children {
		vals[c.element()] = c.Value()
	}
	return cty.ObjectVal(vals)
}

// Equal reports whether two sections are structurally identical. Attribute
// order does not matter; child order does.
func (s *Section) Equal(other *Section) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Kind != other.Kind || !slices.Equal(s.Labels, other.Labels) {
		return false
	}
	if len(s.Attributes) != len(other.Attributes) || len(s.Children) != len(other.Children) {
		return false
	}
	for _, a := range s.Attributes {
		v, ok := other.Attr(a.Name)
		if !ok || !a.Value.RawEquals(v) {
			return false
		}
	}
	for i, c := range s.Children {
		if !c.Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// Document is an immutable, ordered set of top-level sections.
type Document struct {
	Sources  []string
	sections []*Section
	index    map[string]*Section
}

// NewDocument indexes the given sections and all their descendants by path.
// When two sections share a path the first one wins the index; both remain
// visible through Sections.
func NewDocument(sources []string, sections []*Section) *Document {
	d := &Document{
		Sources:  sources,
		sections: sections,
		index:    make(map[string]*Section),
	}
	var walk func(s *Section)
	walk = func(s *Section) {
		if _, ok := d.index[s.Path]; !ok {
			d.index[s.Path] = s
		}
		for _, c := range s.Children {
			walk(c)
		}
	}
	for _, s := range sections {
		walk(s)
	}
	return d
}

// Section returns the section at path, e.g. "runtime" or "entity.A". A
// missing path is reported through the boolean, never as an error.
func (d *Document) Section(path string) (*Section, bool) {
	s, ok := d.index[path]
	return s, ok
}

// Sections returns the top-level sections in declaration order.
func (d *Document) Sections() []*Section {
	return slices.Clone(d.sections)
}

// SectionsOfKind returns the top-level sections of one kind in declaration order.
func (d *Document) SectionsOfKind(kind string) []*Section {
	var out []*Section
	for _, s := range d.sections {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
