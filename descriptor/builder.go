package descriptor

// simple is the reference Descriptor implementation used by tests and
// application glue. Real deployments may bring any schema library that
// satisfies Descriptor instead.
type simple struct {
	tag       TypeTag
	validate  func(v any) error
	optional  bool
	immutable bool
	def       any
	hasDef    bool
	shape     any
}

func (s *simple) Tag() TypeTag        { return s.tag }
func (s *simple) Optional() bool      { return s.optional }
func (s *simple) Immutable() bool     { return s.immutable }
func (s *simple) JSONShape() any      { return s.shape }
func (s *simple) Default() (any, bool) {
	return s.def, s.hasDef
}
func (s *simple) Validate(v any) error {
	if s.validate == nil {
		return nil
	}
	return s.validate(v)
}

// Option configures a descriptor built by Field.
type Option func(*simple)

// Optional marks the attribute as legally absent.
func Optional() Option { return func(s *simple) { s.optional = true } }

// Immutable marks the attribute as writable only at creation.
func Immutable() Option { return func(s *simple) { s.immutable = true } }

// WithDefault attaches a default value.
func WithDefault(v any) Option {
	return func(s *simple) {
		s.def = v
		s.hasDef = true
	}
}

// WithValidator attaches a validation function. Multiple calls compose
// (all must pass).
func WithValidator(fn func(v any) error) Option {
	return func(s *simple) {
		prev := s.validate
		s.validate = func(v any) error {
			if prev != nil {
				if err := prev(v); err != nil {
					return err
				}
			}
			return fn(v)
		}
	}
}

// WithShape attaches an opaque JSON-shape value for introspection.
func WithShape(shape any) Option {
	return func(s *simple) { s.shape = shape }
}

// Field builds a reference Descriptor of the given type tag.
func Field(tag TypeTag, opts ...Option) Descriptor {
	s := &simple{tag: tag}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
