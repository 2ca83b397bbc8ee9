package entity

// Changes is the result of comparing two tables. The four sets are
// disjoint. Removed follows the previous table's declaration order; the
// other sets follow the next table's.
type Changes struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// Empty reports whether nothing was added, removed or changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares two tables section by section. A nil table is empty.
func Diff(prev, next *Table) Changes {
	if prev == nil {
		prev = NewTable()
	}
	if next == nil {
		next = NewTable()
	}

	var c Changes
	for _, d := range prev.descriptors {
		if _, ok := next.byID[d.ID]; !ok {
			c.Removed = append(c.Removed, d.ID)
		}
	}
	for _, d := range next.descriptors {
		old, ok := prev.byID[d.ID]
		switch {
		case !ok:
			c.Added = append(c.Added, d.ID)
		case !old.Equal(d):
			c.Changed = append(c.Changed, d.ID)
		default:
			c.Unchanged = append(c.Unchanged, d.ID)
		}
	}
	return c
}
