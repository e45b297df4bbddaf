// Package field implements the per-attribute runtime state machine
// spec.md §4.2 describes: initial/current value tracking, mutation
// detection, and the write-shape a Field emits at commit time.
package field

import (
	"reflect"

	"github.com/jacentio/strata/descriptor"
	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/errs"
)

// Field is the common interface every variant implements.
type Field interface {
	// Get returns the current value and marks the field as read by the
	// application, which disqualifies the increment fast path.
	Get() any

	// Peek returns the current value without marking it read. Used
	// internally by the model runtime (e.g. snapshot) so that reads that
	// aren't application-driven don't flip ReadAccessed.
	Peek() any

	// Set validates and assigns v. On failure the field is left
	// untouched and an *errs.Error of kind InvalidField is returned.
	Set(v any) error

	// Validate re-runs the validator against the current value.
	Validate() error

	// Mutated reports whether the current value differs from the
	// initial one, using the may-have-mutated fast-path heuristic.
	Mutated() bool

	// HasChangesToCommit reports whether this field's mutation should
	// produce a write, honoring the silent-default suppression rule.
	HasChangesToCommit(expectWrites bool) bool

	// WriteValue produces the driver-facing value for this field:
	// driver.DeleteSentinel{}, driver.Increment{...}, or a deep copy of
	// the current value.
	WriteValue() any

	// ReadAccessed reports whether Get has been called.
	ReadAccessed() bool

	// Written reports whether Set (or Numeric.IncrementBy) has been
	// called successfully.
	Written() bool

	// HasInitial reports whether the field was constructed from an
	// existing document value.
	HasInitial() bool

	// Initial returns the value observed at load time (nil if the field
	// was new), without marking the field as read.
	Initial() any
}

// New constructs the Field variant matching c.TypeTag.
//
// raw is the value present on construction (nil if absent); applyDefault
// is true when the model runtime determined a default should be silently
// applied (spec.md §4.4's default-application rule) — New applies it
// itself so the HasChangesToCommit suppression can track that the value
// was never touched by application code. applyDefault takes effect only
// when hasInitial is false and raw is nil: a field built from a fetched
// document keeps raw as both its initial and current value, and no
// default is applied to it even when raw is nil.
func New(c *descriptor.Compiled, raw any, hasInitial bool, applyDefault bool) (Field, error) {
	st := &state{
		compiled:   c,
		hasInitial: hasInitial,
	}
	if hasInitial {
		st.initial = raw
		st.value = raw
	} else if raw != nil {
		st.value = raw
	} else if applyDefault && c.HasDefault {
		st.value = c.CopyDefault()
		st.defaultApplied = true
	}

	switch c.TypeTag {
	case descriptor.TypeInteger, descriptor.TypeNumber:
		return &Numeric{state: st}, nil
	case descriptor.TypeString:
		return &String{state: st}, nil
	case descriptor.TypeBoolean:
		return &Bool{state: st}, nil
	case descriptor.TypeArray:
		st.equal = reflect.DeepEqual
		return &Array{state: st}, nil
	case descriptor.TypeObject:
		st.equal = reflect.DeepEqual
		return &Object{state: st}, nil
	default:
		return nil, errs.New(errs.KindInvalidField, "unknown type tag %q", c.TypeTag)
	}
}

// state holds the common bookkeeping shared by every variant.
type state struct {
	compiled   *descriptor.Compiled
	initial    any
	hasInitial bool
	value      any

	readAccessed   bool
	written        bool
	defaultApplied bool

	// equal, when set, overrides the default comparable (==) equality
	// check used by Mutated for complex types.
	equal func(a, b any) bool
}

func (s *state) Get() any {
	s.readAccessed = true
	return s.value
}

func (s *state) Peek() any { return s.value }

func (s *state) Initial() any { return s.initial }

func (s *state) ReadAccessed() bool { return s.readAccessed }
func (s *state) Written() bool      { return s.written }
func (s *state) HasInitial() bool   { return s.hasInitial }

func (s *state) Validate() error {
	if s.value == nil && s.compiled.Optional {
		return nil
	}
	return s.compiled.Validator(s.value)
}

// set is the shared Set implementation; variants call it directly.
func (s *state) set(v any) error {
	if s.compiled.Immutable && s.hasInitial && s.initial != nil {
		return errs.New(errs.KindInvalidField, "field is immutable")
	}
	if v == nil && !s.compiled.Optional {
		return errs.New(errs.KindInvalidField, "field is required")
	}
	if v != nil {
		if err := s.compiled.Validator(v); err != nil {
			return errs.Wrap(errs.KindInvalidField, err, "value failed validation")
		}
	}
	s.value = v
	s.written = true
	s.defaultApplied = false
	return nil
}

func (s *state) mayHaveMutated() bool {
	if s.readAccessed || s.written {
		return true
	}
	if !s.hasInitial && !isAbsent(s.value) {
		return true
	}
	return false
}

func (s *state) Mutated() bool {
	if !s.mayHaveMutated() {
		return false
	}
	initialAbsent := !s.hasInitial || isAbsent(s.initial)
	currentAbsent := isAbsent(s.value)
	if initialAbsent != currentAbsent {
		return true
	}
	if initialAbsent && currentAbsent {
		return false
	}
	if s.equal != nil {
		return !s.equal(s.value, s.initial)
	}
	return s.value != s.initial
}

func (s *state) HasChangesToCommit(expectWrites bool) bool {
	if !s.Mutated() {
		return false
	}
	if s.defaultApplied && !s.written && !expectWrites {
		return false
	}
	return true
}

func (s *state) WriteValue() any {
	if isAbsent(s.value) {
		if s.hasInitial && !isAbsent(s.initial) {
			return driver.DeleteSentinel{}
		}
		if s.written {
			return driver.DeleteSentinel{}
		}
		return nil
	}
	return deepCopy(s.value)
}

func isAbsent(v any) bool { return v == nil }

func invalidFieldErr(format string, args ...any) error {
	return errs.New(errs.KindInvalidField, format, args...)
}

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
