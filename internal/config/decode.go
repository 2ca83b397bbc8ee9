package config

import (
	"fmt"
	"reflect"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Decode binds the section's attributes to the `cty`-tagged fields of the
// struct target points to. Pointer, slice and map fields are optional; every
// other tagged field must be present. Attributes without a matching field are
// ignored, which lets meta attributes like depends_on live next to component
// settings.
func (s *Section) Decode(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%s: decode target must be a non-nil pointer to a struct, got %T", s.Path, target)
	}

	st := rv.Elem().Type()
	vals := make(map[string]cty.Value)
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		name := field.Tag.Get("cty")
		if name == "" || name == "-" || !field.IsExported() {
			continue
		}

		v, ok := s.Attr(name)
		if !ok || v.IsNull() {
			switch field.Type.Kind() {
			case reflect.Pointer, reflect.Slice, reflect.Map:
				continue
			}
			return fmt.Errorf("%s: missing required attribute %q", s.Path, name)
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		want, err := gocty.ImpliedType(reflect.Zero(ft).Interface())
		if err != nil {
			return fmt.Errorf("%s: field %s has no configuration type: %w", s.Path, field.Name, err)
		}
		converted, err := convert.Convert(v, want)
		if err != nil {
			return fmt.Errorf("%s: attribute %q: %w", s.Path, name, err)
		}
		vals[name] = converted
	}

	if err := gocty.FromCtyValue(cty.ObjectVal(vals), target); err != nil {
		return fmt.Errorf("%s: %w", s.Path, err)
	}
	return nil
}
