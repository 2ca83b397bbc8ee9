package entity

import (
	"slices"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/registry"
)

// Kind is the section kind that declares an entity.
const Kind = "entity"

// Descriptor is the static description of one configured entity.
type Descriptor struct {
	ID       string
	TypeName string
	// Type is registry.NoType when TypeName is not registered.
	Type          registry.TypeID
	Section       *config.Section
	DependsOn     []string
	SoftDependsOn []string
	// Index is the declaration position among all entity sections.
	Index int
}

// Equal reports whether two descriptors describe the same configuration.
// Index and Type are derived and not compared.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.ID == other.ID &&
		d.TypeName == other.TypeName &&
		slices.Equal(d.DependsOn, other.DependsOn) &&
		slices.Equal(d.SoftDependsOn, other.SoftDependsOn) &&
		d.Section.Equal(other.Section)
}

// header holds the attributes every entity section may carry regardless of
// its type.
type header struct {
	Enabled       *bool    `cty:"enabled"`
	DependsOn     []string `cty:"depends_on"`
	SoftDependsOn []string `cty:"soft_depends_on"`
}
