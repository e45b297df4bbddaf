package field

// Array is the Field variant for descriptor.TypeArray. Mutation detection
// uses deep equality against the initial value (wired in by New), per
// spec.md §4.2.
type Array struct {
	*state
}

func (a *Array) Set(v any) error { return a.state.set(v) }
