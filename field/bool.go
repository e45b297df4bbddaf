package field

// Bool is the Field variant for descriptor.TypeBoolean.
type Bool struct {
	*state
}

func (b *Bool) Set(v any) error { return b.state.set(v) }
