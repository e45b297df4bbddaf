package field

// Object is the Field variant for descriptor.TypeObject. Mutation
// detection uses deep equality against the initial value (wired in by
// New), per spec.md §4.2.
type Object struct {
	*state
}

func (o *Object) Set(v any) error { return o.state.set(v) }
