package entity

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/dag"
	"github.com/vk/cutlet/internal/registry"
)

// TypeLookup interns component type names. *registry.Registry implements it.
type TypeLookup interface {
	Lookup(name string) (registry.TypeID, bool)
}

// Table is an immutable set of descriptors built from one document.
type Table struct {
	descriptors []*Descriptor
	byID        map[string]*Descriptor
	order       []string
	invalid     map[string]error
	disabled    []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		byID:    make(map[string]*Descriptor),
		invalid: make(map[string]error),
	}
}

// Build creates the descriptor table of doc. Types are resolved through
// types, which may be nil. Only duplicate IDs and unlabeled entity sections
// fail the build; every other problem is local to one entity and reported
// through Invalid.
func Build(doc *config.Document, types TypeLookup) (*Table, error) {
	t := NewTable()
	declared := make(map[string]*config.Section)

	for i, s := range doc.SectionsOfKind(Kind) {
		if len(s.Labels) != 2 {
			return nil, fmt.Errorf("%s: entity section needs a type and an ID label, got %d labels", s.Source, len(s.Labels))
		}
		typeName, id := s.Labels[0], s.Labels[1]
		if first, ok := declared[id]; ok {
			return nil, fmt.Errorf("%w %q: declared in %s and %s", ErrDuplicateID, id, first.Source, s.Source)
		}
		declared[id] = s

		d := &Descriptor{ID: id, TypeName: typeName, Section: s, Index: i}
		if types != nil {
			if tid, ok := types.Lookup(typeName); ok {
				d.Type = tid
			}
		}

		var h header
		if err := s.Decode(&h); err != nil {
			t.add(d)
			t.invalid[id] = fmt.Errorf("%w: %w", ErrInvalidHeader, err)
			continue
		}
		if h.Enabled != nil && !*h.Enabled {
			t.disabled = append(t.disabled, id)
			continue
		}
		d.DependsOn = dedupe(h.DependsOn)
		d.SoftDependsOn = dedupe(h.SoftDependsOn)
		t.add(d)
	}

	t.resolve()
	return t, nil
}

func (t *Table) add(d *Descriptor) {
	t.descriptors = append(t.descriptors, d)
	t.byID[d.ID] = d
}

// resolve marks entities with missing hard dependencies or hard dependency
// cycles as invalid and computes the creation order of the rest. A soft
// dependency that is absent or would close a cycle is ignored.
func (t *Table) resolve() {
	for _, d := range t.descriptors {
		if _, bad := t.invalid[d.ID]; bad {
			continue
		}
		for _, dep := range d.DependsOn {
			if _, ok := t.byID[dep]; !ok {
				t.invalid[d.ID] = fmt.Errorf("%w: %q requires %q", ErrMissingDependency, d.ID, dep)
				break
			}
		}
	}

	for {
		g := t.graph(false)
		err := g.DetectCycles()
		var cycle *dag.CycleError
		if !errors.As(err, &cycle) {
			break
		}
		for _, id := range cycle.Path {
			if _, bad := t.invalid[id]; !bad {
				t.invalid[id] = fmt.Errorf("%w: %w", ErrDependencyCycle, cycle)
			}
		}
	}

	order, err := t.graph(true).TopologicalOrder(nil)
	if err != nil {
		// Soft edges are only added when they keep the graph acyclic.
		panic(fmt.Sprintf("entity: unexpected cycle after resolution: %v", err))
	}
	t.order = order
}

// graph returns the dependency graph of the valid descriptors in
// declaration order. Edges to invalid descriptors are left out.
func (t *Table) graph(withSoft bool) *dag.Graph {
	g := dag.New()
	for _, d := range t.descriptors {
		if _, bad := t.invalid[d.ID]; !bad {
			g.AddNode(d.ID)
		}
	}
	for _, d := range t.descriptors {
		if !g.Has(d.ID) {
			continue
		}
		for _, dep := range d.DependsOn {
			if g.Has(dep) {
				_ = g.AddEdge(dep, d.ID)
			}
		}
	}
	if !withSoft {
		return g
	}
	for _, d := range t.descriptors {
		if !g.Has(d.ID) {
			continue
		}
		for _, dep := range d.SoftDependsOn {
			if dep == d.ID || !g.Has(dep) || g.HasPath(d.ID, dep) {
				continue
			}
			_ = g.AddEdge(dep, d.ID)
		}
	}
	return g
}

// Get returns the descriptor with the given ID.
func (t *Table) Get(id string) (*Descriptor, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// Len returns the number of descriptors, valid or not.
func (t *Table) Len() int {
	return len(t.descriptors)
}

// IDs returns every descriptor ID in declaration order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.descriptors))
	for i, d := range t.descriptors {
		ids[i] = d.ID
	}
	return ids
}

// Descriptors returns every descriptor in declaration order.
func (t *Table) Descriptors() []*Descriptor {
	return slices.Clone(t.descriptors)
}

// Order returns the IDs of the valid descriptors in creation order: every
// entity after its dependencies, otherwise in declaration order.
func (t *Table) Order() []string {
	return slices.Clone(t.order)
}

// Invalid returns the descriptors that can never start, keyed by ID.
func (t *Table) Invalid() map[string]error {
	return maps.Clone(t.invalid)
}

// Err returns why the descriptor with the given ID cannot start, if it can't.
func (t *Table) Err(id string) error {
	return t.invalid[id]
}

// Disabled returns the IDs of the sections declared with enabled = false.
func (t *Table) Disabled() []string {
	return slices.Clone(t.disabled)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
