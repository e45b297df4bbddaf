// Package model implements the per-document façade spec.md §4.4/§4.5
// describes: a model class's compiled metadata, the sealed instance that
// binds fields to named attributes, and the Key/Data/KeyList handle types
// used to address documents without touching the driver.
package model

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/jacentio/strata/descriptor"
	"github.com/jacentio/strata/errs"
)

// reservedNames collide with the façade's own method set; an attribute
// may not be named any of these (spec.md §3's invariant), compared
// case-insensitively so "Get"/"get"/"GET" are all rejected.
var reservedNames = []string{
	"isNew", "Get", "Set", "Key", "Dispatch", "Finalize", "Snapshot",
}

var reservedCollectionSuffixes = []string{"Model", "Table", "Collection"}

// FinalizeFunc is the pre-commit hook spec.md §4.4 describes: it may
// mutate m (e.g. to stamp a timestamp or bump a version) before the
// write is dispatched; its mutations must themselves pass validation.
// Composition (a Meta field referencing a function) replaces the
// class-hierarchy "base model" pattern per spec.md §9.
type FinalizeFunc func(ctx context.Context, m *Instance) error

// attr is one compiled, named attribute — either a key component or a
// plain field.
type attr struct {
	Name     string
	IsKey    bool
	Compiled *descriptor.Compiled
}

// Meta is a model class's compiled, memoized metadata: spec.md §3's
// "Model class (static declaration)". Built once by Compile and shared
// by every Instance of the class.
type Meta struct {
	name           string
	collectionName string
	keyOrder       []string
	attrs          map[string]*attr
	tags           map[string]descriptor.TypeTag

	// ParentClass, ParentKeyAttr and UniqueFields are the
	// hierarchical-relationship domain extension (SPEC_FULL.md §4.9):
	// optional, nil/empty for a root class with no parent and no
	// uniqueness constraints. ParentKeyAttr names the field on this
	// class holding the parent's encoded identifier (the teacher's
	// "organization_id"-style foreign key).
	ParentClass   *Meta
	ParentKeyAttr string
	UniqueFields  []string

	// Finalize is the optional pre-commit hook. Nil means no-op.
	Finalize FinalizeFunc
}

// Name returns the class's declared name.
func (m *Meta) Name() string { return m.name }

// CollectionName returns the validated collection name documents of
// this class are stored under.
func (m *Meta) CollectionName() string { return m.collectionName }

// KeyOrder returns the lexicographically-sorted key-component names.
func (m *Meta) KeyOrder() []string { return append([]string(nil), m.keyOrder...) }

// Tags returns the TypeTag of every declared attribute, keyed by name —
// used by keycodec to encode/decode key components.
func (m *Meta) Tags() map[string]descriptor.TypeTag { return m.tags }

// IsKeyAttr reports whether name is a key component (as opposed to a
// plain field) on this class.
func (m *Meta) IsKeyAttr(name string) bool {
	a, ok := m.attrs[name]
	return ok && a.IsKey
}

// HasAttr reports whether name is any declared attribute of this class.
func (m *Meta) HasAttr(name string) bool {
	_, ok := m.attrs[name]
	return ok
}

// Compile builds a Meta from a class's declared KEY and FIELDS
// descriptor maps, enforcing every invariant spec.md §3 lists. Unlike
// the source's lazy first-access memoization, Compile performs the
// compilation eagerly — Go has no implicit "class body" moment to defer
// to, so the constructor call itself is first use (the same pattern
// store/config.go's DefaultConfig/validate follows).
//
// collectionName, if empty, defaults to name. parentClass, parentKeyAttr
// and uniqueFields implement the hierarchical-relationship domain
// extension (SPEC_FULL.md §4.9); pass "" and nil and nil for a class with
// neither a parent nor uniqueness constraints. parentKeyAttr must name a
// declared non-key field when parentClass is non-nil.
func Compile(
	name string,
	key map[string]descriptor.Descriptor,
	fields map[string]descriptor.Descriptor,
	collectionName string,
	parentClass *Meta,
	parentKeyAttr string,
	uniqueFields []string,
	finalize FinalizeFunc,
) (*Meta, error) {
	if len(key) == 0 {
		return nil, errs.New(errs.KindInvalidParameter, "model %q: KEY must declare at least one component", name)
	}

	attrs := make(map[string]*attr, len(key)+len(fields))
	tags := make(map[string]descriptor.TypeTag, len(key)+len(fields))
	keyOrder := make([]string, 0, len(key))

	for attrName, d := range key {
		if err := validateAttrName(attrName); err != nil {
			return nil, errs.Wrap(errs.KindInvalidParameter, err, "model %q", name)
		}
		c, err := descriptor.Compile(attrName, d, true)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidParameter, err, "model %q", name)
		}
		attrs[attrName] = &attr{Name: attrName, IsKey: true, Compiled: c}
		tags[attrName] = c.TypeTag
		keyOrder = append(keyOrder, attrName)
	}
	sort.Strings(keyOrder)

	for attrName, d := range fields {
		if _, collides := attrs[attrName]; collides {
			return nil, errs.New(errs.KindInvalidParameter, "model %q: attribute %q appears in both KEY and FIELDS", name, attrName)
		}
		if err := validateAttrName(attrName); err != nil {
			return nil, errs.Wrap(errs.KindInvalidParameter, err, "model %q", name)
		}
		c, err := descriptor.Compile(attrName, d, false)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidParameter, err, "model %q", name)
		}
		attrs[attrName] = &attr{Name: attrName, IsKey: false, Compiled: c}
		tags[attrName] = c.TypeTag
	}

	if collectionName == "" {
		collectionName = name
	}
	if err := validateCollectionName(collectionName); err != nil {
		return nil, errs.Wrap(errs.KindInvalidParameter, err, "model %q", name)
	}

	for _, uf := range uniqueFields {
		a, ok := attrs[uf]
		if !ok || a.IsKey {
			return nil, errs.New(errs.KindInvalidParameter, "model %q: unique field %q must name a declared non-key field", name, uf)
		}
	}

	if parentClass != nil {
		a, ok := attrs[parentKeyAttr]
		if !ok || a.IsKey {
			return nil, errs.New(errs.KindInvalidParameter, "model %q: parentKeyAttr %q must name a declared non-key field", name, parentKeyAttr)
		}
	}

	return &Meta{
		name:           name,
		collectionName: collectionName,
		keyOrder:       keyOrder,
		attrs:          attrs,
		tags:           tags,
		ParentClass:    parentClass,
		ParentKeyAttr:  parentKeyAttr,
		UniqueFields:   uniqueFields,
		Finalize:       finalize,
	}, nil
}

func validateAttrName(name string) error {
	if name == "" {
		return errs.New(errs.KindInvalidParameter, "attribute name must not be empty")
	}
	if strings.HasPrefix(name, "_") {
		return errs.New(errs.KindInvalidParameter, "attribute name %q must not start with '_'", name)
	}
	if strings.EqualFold(name, "isNew") {
		return errs.New(errs.KindInvalidParameter, "attribute name %q collides with the reserved name isNew", name)
	}
	for _, reserved := range reservedNames {
		if strings.EqualFold(name, reserved) {
			return errs.New(errs.KindInvalidParameter, "attribute name %q collides with a façade method name", name)
		}
	}
	return nil
}

func validateCollectionName(name string) error {
	if name == "" {
		return errs.New(errs.KindInvalidParameter, "collection name must not be empty")
	}
	first := rune(name[0])
	if !unicode.IsUpper(first) {
		return errs.New(errs.KindInvalidParameter, "collection name %q must start with an uppercase letter", name)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return errs.New(errs.KindInvalidParameter, "collection name %q must contain only letters and digits", name)
		}
	}
	for _, suffix := range reservedCollectionSuffixes {
		if strings.HasSuffix(name, suffix) {
			return errs.New(errs.KindInvalidParameter, "collection name %q must not end in reserved suffix %q", name, suffix)
		}
	}
	return nil
}
