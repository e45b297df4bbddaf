package field

import "github.com/jacentio/strata/driver"

// Numeric is the Field variant for descriptor.TypeInteger/TypeNumber.
type Numeric struct {
	*state
	diffAccumulator *float64
}

// Set validates and assigns v, discarding any pending increment
// accumulator per spec.md §4.2.
func (n *Numeric) Set(v any) error {
	if err := n.state.set(v); err != nil {
		return err
	}
	n.diffAccumulator = nil
	return nil
}

// IncrementBy accumulates delta without reading the field, so the commit
// can dispatch a native atomic-increment write instead of a
// read-modify-write. Invalid when the field has no initial value
// (spec.md §4.2, §8).
func (n *Numeric) IncrementBy(delta float64) error {
	if !n.hasInitial || isAbsent(n.initial) {
		return invalidIncrementNoInitial()
	}

	if n.readAccessed || (n.written && n.diffAccumulator == nil) {
		// Downgrade to a plain read-modify-write: the field has already
		// been read or explicitly set, so the increment can't be
		// dispatched natively.
		cur, _ := toFloat(n.value)
		return n.Set(fromFloat(cur+delta, n.initial))
	}

	if n.diffAccumulator == nil {
		zero := 0.0
		n.diffAccumulator = &zero
	}
	*n.diffAccumulator += delta

	base, _ := toFloat(n.initial)
	n.value = fromFloat(base+*n.diffAccumulator, n.initial)
	n.written = true
	n.defaultApplied = false
	return nil
}

// CanUseIncrement reports whether the commit may dispatch a native
// atomic increment instead of writing the computed value: there must be
// an accumulator, a defined initial value, and no read or explicit set.
func (n *Numeric) CanUseIncrement() bool {
	return n.diffAccumulator != nil &&
		n.hasInitial && !isAbsent(n.initial) &&
		!n.readAccessed
}

// WriteValue overrides the common implementation to emit an
// driver.Increment sentinel when CanUseIncrement holds.
func (n *Numeric) WriteValue() any {
	if n.CanUseIncrement() {
		return driver.Increment{Delta: *n.diffAccumulator}
	}
	return n.state.WriteValue()
}

func invalidIncrementNoInitial() error {
	return invalidFieldErr("incrementBy requires a defined initial value")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// fromFloat converts f back to the same Go type as like, so an int field
// doesn't silently turn into a float64 after an increment.
func fromFloat(f float64, like any) any {
	switch like.(type) {
	case int:
		return int(f)
	case int32:
		return int32(f)
	case int64:
		return int64(f)
	case float32:
		return float32(f)
	default:
		return f
	}
}
