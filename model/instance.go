package model

import (
	"context"

	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/errs"
	"github.com/jacentio/strata/field"
	"github.com/jacentio/strata/keycodec"
)

// NewOptions are the construction inputs spec.md §4.4 enumerates.
type NewOptions struct {
	// IsNew is true for create/createOrOverwrite and for a get miss with
	// createIfMissing; false for a get hit and for updateWithoutRead.
	IsNew bool

	// IsSet is true when the eventual write should replace-or-create
	// (createOrOverwrite) rather than fail-if-exists (create).
	IsSet bool

	// IsPartial is true for updateWithoutRead: defaults are not applied
	// and attributes absent from Values are not validated.
	IsPartial bool

	// Key supplies every key-component's raw value. Required in full.
	Key map[string]any

	// Values supplies non-key attribute raw values; attributes absent
	// here are either defaulted (per the rule below) or left unset.
	Values map[string]any
}

// Instance is the sealed, per-document façade: spec.md §3's "Model
// instance". It borrows no storage from a Model↔Field pointer cycle —
// its Field objects are plain map entries it owns outright, matching
// the arena-like borrowing spec.md §9 recommends without requiring a
// literal shared arena in Go (an instance-owned map is as cheap and
// avoids an extra indirection layer).
type Instance struct {
	meta   *Meta
	fields map[string]field.Field

	isNew     bool
	isSet     bool
	isPartial bool
}

// New constructs an Instance per spec.md §4.4's five-step recipe.
func New(meta *Meta, opts NewOptions) (*Instance, error) {
	for _, name := range meta.keyOrder {
		if _, ok := opts.Key[name]; !ok {
			return nil, errs.New(errs.KindInvalidParameter, "missing key component %q", name)
		}
	}
	for name := range opts.Key {
		if !meta.IsKeyAttr(name) {
			return nil, errs.New(errs.KindInvalidParameter, "%q is not a key component of %q", name, meta.name)
		}
	}
	for name := range opts.Values {
		a, ok := meta.attrs[name]
		if !ok {
			return nil, errs.New(errs.KindInvalidParameter, "unknown attribute %q on %q", name, meta.name)
		}
		if a.IsKey {
			return nil, errs.New(errs.KindInvalidParameter, "%q is a key component, not a field", name)
		}
	}

	// A blind partial update (updateWithoutRead) never observed storage,
	// so its supplied values are the intended new state, not a prior
	// value to diff against — hasInitial is false even though IsNew is
	// also false for that case.
	hasInitial := !opts.IsNew && !opts.IsPartial
	fields := make(map[string]field.Field, len(meta.attrs))

	for name, a := range meta.attrs {
		var raw any
		present := false
		if a.IsKey {
			raw, present = opts.Key[name], true
		} else {
			raw, present = opts.Values[name]
		}

		applyDefault := false
		if !a.IsKey && !opts.IsPartial && !present {
			applyDefault = opts.IsNew || (!opts.IsNew && !a.Compiled.Optional)
		}

		f, err := field.New(a.Compiled, raw, hasInitial, applyDefault)
		if err != nil {
			return nil, err
		}
		fields[name] = f

		switch {
		case opts.IsPartial:
			if present {
				if err := f.Validate(); err != nil {
					return nil, err
				}
			}
		case opts.IsNew:
			if present || !a.Compiled.Optional {
				if err := f.Validate(); err != nil {
					return nil, err
				}
			}
		default:
			if present {
				if err := f.Validate(); err != nil {
					return nil, err
				}
			}
		}
	}

	return &Instance{
		meta:      meta,
		fields:    fields,
		isNew:     opts.IsNew,
		isSet:     opts.IsSet,
		isPartial: opts.IsPartial,
	}, nil
}

// Meta returns the compiled class metadata this instance was built from.
func (i *Instance) Meta() *Meta { return i.meta }

// IsNew reports whether this instance represents a document not yet
// known to exist in storage.
func (i *Instance) IsNew() bool { return i.isNew }

// HasPendingChanges reports whether any non-key field carries a
// commit-worthy mutation. Used by the transaction core to decide
// whether an already-tracked, non-new instance needs a write at all.
func (i *Instance) HasPendingChanges() bool {
	for name, a := range i.meta.attrs {
		if a.IsKey {
			continue
		}
		if i.fields[name].HasChangesToCommit(true) {
			return true
		}
	}
	return false
}

// Get returns attribute name's current value. Unknown names raise
// InvalidParameter — the façade is sealed.
func (i *Instance) Get(name string) (any, error) {
	f, ok := i.fields[name]
	if !ok {
		return nil, errs.New(errs.KindInvalidParameter, "unknown attribute %q", name)
	}
	return f.Get(), nil
}

// Set assigns v to attribute name. Key components are never settable —
// the identifier is established once at construction.
func (i *Instance) Set(name string, v any) error {
	a, ok := i.meta.attrs[name]
	if !ok {
		return errs.New(errs.KindInvalidParameter, "unknown attribute %q", name)
	}
	if a.IsKey {
		return errs.New(errs.KindInvalidField, "%q is a key component and cannot be set", name)
	}
	return i.fields[name].Set(v)
}

// Key computes the document identifier from the current key-component
// values (read-only; spec.md §4.4 step 5). Key components are
// immutable so this is equivalent at any point in the instance's life.
func (i *Instance) Key() (*Key, error) {
	components := make(map[string]any, len(i.meta.keyOrder))
	for _, name := range i.meta.keyOrder {
		components[name] = i.fields[name].Peek()
	}
	encoded, err := keycodec.Encode(i.meta.keyOrder, i.meta.tags, components)
	if err != nil {
		return nil, err
	}
	return &Key{Class: i.meta, EncodedID: encoded, Components: components}, nil
}

// SnapshotOptions controls Snapshot's output shape.
type SnapshotOptions struct {
	// Initial selects the value observed at load time rather than the
	// current value.
	Initial bool

	// IncludeIDAsField additionally includes the encoded identifier
	// under the key "id".
	IncludeIDAsField bool

	// OmitKey excludes key-component attributes from the result.
	OmitKey bool
}

// Snapshot returns a plain map of attribute name → value, using Peek
// (never Get) so that taking a snapshot never flips readAccessed.
func (i *Instance) Snapshot(opts SnapshotOptions) (map[string]any, error) {
	out := make(map[string]any, len(i.fields)+1)
	for name, a := range i.meta.attrs {
		if a.IsKey && opts.OmitKey {
			continue
		}
		f := i.fields[name]
		if opts.Initial {
			out[name] = f.Initial()
		} else {
			out[name] = f.Peek()
		}
	}
	if opts.IncludeIDAsField {
		k, err := i.Key()
		if err != nil {
			return nil, err
		}
		out["id"] = k.EncodedID
	}
	return out, nil
}

// WriteOp names the write shape Dispatch produced.
type WriteOp int

const (
	// WriteCreate fails if a document already exists at Ref.
	WriteCreate WriteOp = iota
	// WriteOverwrite replaces any existing document at Ref.
	WriteOverwrite
	// WriteUpdate applies Data as a partial, field-level update.
	WriteUpdate
)

// Write is the driver-facing write description Dispatch produces.
type Write struct {
	Op   WriteOp
	Ref  driver.Ref
	Data map[string]any

	// ParentRef and UniqueValues are populated only for a create (never an
	// overwrite or update) on a class that declares ParentClass/
	// UniqueFields — the hierarchical-relationship domain extension
	// (SPEC_FULL.md §4.9). ParentRef is "" when Meta has no ParentClass.
	// txn, not model, turns these into the driver's ParentCheck/
	// UniqueConstraint shapes — model has no business knowing how a
	// driver shards or addresses its shadow records.
	ParentRef    string
	UniqueValues map[string]string
}

// Dispatch runs the Finalize hook (if any) and then produces the
// commit-time write shape per spec.md §4.4's four cases (the delete
// case is handled by the tracked-slot table in txn, which never holds a
// live Instance for a deleted slot).
func (i *Instance) Dispatch(ctx context.Context) (*Write, error) {
	if i.meta.Finalize != nil {
		if err := i.meta.Finalize(ctx, i); err != nil {
			return nil, err
		}
	}

	key, err := i.Key()
	if err != nil {
		return nil, err
	}
	ref := key.Ref()

	if i.isNew {
		data := i.fullData()
		if i.isSet {
			return &Write{Op: WriteOverwrite, Ref: ref, Data: data}, nil
		}
		w := &Write{Op: WriteCreate, Ref: ref, Data: data}
		if i.meta.ParentClass != nil {
			if s, ok := i.fields[i.meta.ParentKeyAttr].Peek().(string); ok {
				w.ParentRef = s
			}
		}
		if len(i.meta.UniqueFields) > 0 {
			w.UniqueValues = make(map[string]string, len(i.meta.UniqueFields))
			for _, uf := range i.meta.UniqueFields {
				if s, ok := i.fields[uf].Peek().(string); ok && s != "" {
					w.UniqueValues[uf] = s
				}
			}
		}
		return w, nil
	}

	data := i.changedData()
	if len(data) == 0 {
		return nil, errs.New(errs.KindGenericModel, "update did not provide any data to change")
	}
	return &Write{Op: WriteUpdate, Ref: ref, Data: data}, nil
}

// fullData collects every non-key attribute's current value for a
// create/overwrite write; attributes with no value (nil, optional) are
// omitted from the wire document entirely.
func (i *Instance) fullData() map[string]any {
	data := make(map[string]any, len(i.fields))
	for name, a := range i.meta.attrs {
		if a.IsKey {
			continue
		}
		if wv := i.fields[name].WriteValue(); wv != nil {
			data[name] = wv
		}
	}
	return data
}

// changedData collects only the non-key attributes with a commit-worthy
// mutation, honoring the silent-default suppression rule (expectWrites
// is always true here — an update is only dispatched when the instance
// is actually being written).
func (i *Instance) changedData() map[string]any {
	data := make(map[string]any, len(i.fields))
	for name, a := range i.meta.attrs {
		if a.IsKey {
			continue
		}
		f := i.fields[name]
		if f.HasChangesToCommit(true) {
			data[name] = f.WriteValue()
		}
	}
	return data
}
