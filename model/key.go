package model

import (
	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/errs"
	"github.com/jacentio/strata/keycodec"
)

// Key is identity only: spec.md §3/§4.5's Key handle type — a class, its
// encoded identifier, and the component values that produced it.
type Key struct {
	Class      *Meta
	EncodedID  string
	Components map[string]any
}

// Ref returns the driver-facing address this Key identifies.
func (k *Key) Ref() driver.Ref {
	return driver.Ref{Collection: k.Class.CollectionName(), ID: k.EncodedID}
}

// KeyOf builds a Key from either a component map or, for a single-
// key-component class, a bare scalar shorthand (spec.md §4.5).
// Presenting any non-key attribute name raises InvalidParameter.
func KeyOf(meta *Meta, v any) (*Key, error) {
	components, ok := v.(map[string]any)
	if !ok {
		if len(meta.keyOrder) != 1 {
			return nil, errs.New(errs.KindInvalidParameter, "%q has a compound key; Key.Of requires a component map", meta.name)
		}
		components = map[string]any{meta.keyOrder[0]: v}
	} else {
		for name := range components {
			if !meta.IsKeyAttr(name) {
				return nil, errs.New(errs.KindInvalidParameter, "%q is not a key component of %q", name, meta.name)
			}
		}
	}

	encoded, err := keycodec.Encode(meta.keyOrder, meta.tags, components)
	if err != nil {
		return nil, err
	}
	return &Key{Class: meta, EncodedID: encoded, Components: components}, nil
}

// Data is a Key plus the non-key initial values supplied alongside it —
// spec.md §4.5's Data handle, used to address a document that may not
// exist yet (createIfMissing) without synthesizing a full Instance until
// one is actually needed.
type Data struct {
	Key
	Values map[string]any
}

// DataOf splits values into key components (addressing the document)
// and the remaining non-key values (retained for eventual construction).
// Any name that is neither a declared key component nor a declared
// field raises InvalidParameter.
func DataOf(meta *Meta, values map[string]any) (*Data, error) {
	components := make(map[string]any, len(meta.keyOrder))
	rest := make(map[string]any, len(values))

	for name, v := range values {
		switch {
		case meta.IsKeyAttr(name):
			components[name] = v
		case meta.HasAttr(name):
			rest[name] = v
		default:
			return nil, errs.New(errs.KindInvalidParameter, "unknown attribute %q on %q", name, meta.name)
		}
	}

	key, err := KeyOf(meta, components)
	if err != nil {
		return nil, err
	}
	return &Data{Key: *key, Values: rest}, nil
}

// keyListEntry is the dedup identity for KeyList: (class, encodedID).
type keyListEntry struct {
	class string
	id    string
}

// KeyList is an ordered collection that deduplicates by
// (className, encodedId), preserving first-seen order (spec.md §3's
// "Unique key list").
type KeyList struct {
	keys []*Key
	seen map[keyListEntry]struct{}
}

// NewKeyList returns an empty KeyList.
func NewKeyList() *KeyList {
	return &KeyList{seen: make(map[keyListEntry]struct{})}
}

// Push appends each of keys not already present, in order, skipping
// duplicates. O(1) membership check per key via the entry hash.
func (l *KeyList) Push(keys ...*Key) {
	for _, k := range keys {
		entry := keyListEntry{class: k.Class.Name(), id: k.EncodedID}
		if _, dup := l.seen[entry]; dup {
			continue
		}
		l.seen[entry] = struct{}{}
		l.keys = append(l.keys, k)
	}
}

// Keys returns the deduplicated keys in first-seen order.
func (l *KeyList) Keys() []*Key {
	return append([]*Key(nil), l.keys...)
}

// Len reports the number of distinct keys pushed so far.
func (l *KeyList) Len() int { return len(l.keys) }
