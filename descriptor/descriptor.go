// Package descriptor adapts external, JSON-schema-like field descriptors
// into the compiled shape the rest of strata consumes.
//
// A descriptor library is treated as an external collaborator: the core
// depends only on the [Descriptor] interface it expects from whatever
// schema library the application brings; builder.go adds a small
// reference implementation for tests and application glue. [Compile] turns a
// Descriptor into a memoizable, validated [Compiled] value.
package descriptor

import (
	"fmt"
	"reflect"
)

// TypeTag selects which field.Field variant a compiled descriptor binds to.
type TypeTag string

const (
	TypeArray   TypeTag = "array"
	TypeBoolean TypeTag = "boolean"
	TypeInteger TypeTag = "integer"
	TypeNumber  TypeTag = "number"
	TypeObject  TypeTag = "object"
	TypeString  TypeTag = "string"
)

// Descriptor is the external, schema-library-provided field description.
// Application glue supplies concrete implementations; strata only depends
// on this interface.
type Descriptor interface {
	// Tag reports which TypeTag this descriptor declares.
	Tag() TypeTag

	// Validate reports whether v is a legal value for this descriptor.
	Validate(v any) error

	// Optional reports whether the attribute may be absent.
	Optional() bool

	// Immutable reports whether the attribute may be written only once.
	Immutable() bool

	// Default returns the default value and whether one is declared.
	Default() (any, bool)

	// JSONShape returns an opaque, implementation-defined shape
	// descriptor suitable for documentation/introspection. May be nil.
	JSONShape() any
}

// Compiled is the result of adapting a Descriptor: a validator, default
// applier, and serializer bundle ready for field.Field construction.
type Compiled struct {
	TypeTag   TypeTag
	Validator func(v any) error
	JSONShape any
	Optional  bool
	Immutable bool
	Default   any
	HasDefault bool

	// AssertValid re-validates the compiled default against Validator.
	// Populated by Compile; exposed so callers can re-check after a
	// schema reload.
	AssertValid func() error
}

// Compile adapts d into a Compiled value. When isKey is true, d must not
// be Optional, must be Immutable, and must not declare a Default — any
// violation is reported as an error naming the offending constraint.
func Compile(name string, d Descriptor, isKey bool) (*Compiled, error) {
	if d == nil {
		return nil, fmt.Errorf("descriptor: %q: nil descriptor", name)
	}

	def, hasDefault := d.Default()

	if isKey {
		if d.Optional() {
			return nil, fmt.Errorf("descriptor: key component %q must not be optional", name)
		}
		if !d.Immutable() {
			return nil, fmt.Errorf("descriptor: key component %q must be immutable", name)
		}
		if hasDefault {
			return nil, fmt.Errorf("descriptor: key component %q must not declare a default", name)
		}
	}

	if hasDefault {
		if err := d.Validate(def); err != nil {
			return nil, fmt.Errorf("descriptor: %q: default value fails its own validator: %w", name, err)
		}
	}

	c := &Compiled{
		TypeTag:    d.Tag(),
		Validator:  d.Validate,
		JSONShape:  d.JSONShape(),
		Optional:   d.Optional(),
		Immutable:  d.Immutable(),
		Default:    def,
		HasDefault: hasDefault,
	}
	c.AssertValid = func() error {
		if !c.HasDefault {
			return nil
		}
		return c.Validator(c.Default)
	}
	return c, nil
}

// CopyDefault deep-copies a compiled descriptor's default, so repeated
// applications never share backing storage across instances.
func (c *Compiled) CopyDefault() any {
	if !c.HasDefault {
		return nil
	}
	return deepCopy(c.Default)
}

// deepCopy produces a structural copy of maps/slices; scalars are
// returned as-is since Go values of those kinds are already copy-on-assign.
func deepCopy(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		for _, k := range rv.MapKeys() {
			out.SetMapIndex(k, reflect.ValueOf(deepCopy(rv.MapIndex(k).Interface())))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(reflect.ValueOf(deepCopy(rv.Index(i).Interface())))
		}
		return out.Interface()
	default:
		return v
	}
}
