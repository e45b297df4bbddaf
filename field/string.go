package field

// String is the Field variant for descriptor.TypeString. Behavior is
// entirely inherited from state; NUL-byte rejection for string key
// components is enforced by keycodec, not here, since a plain string
// attribute may legally contain NUL.
type String struct {
	*state
}

func (s *String) Set(v any) error { return s.state.set(v) }
