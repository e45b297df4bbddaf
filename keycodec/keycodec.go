// Package keycodec implements the deterministic encode/decode between a
// compound key-component map and the single document identifier strata
// stores documents under (spec.md §4.3).
//
// The approach generalizes the sharded-partition-key derivation in the
// teacher's internal/shard package (now promoted to the top-level shard
// package) from one-way hashing to a lossless, order-sensitive encoding.
package keycodec

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/jacentio/strata/descriptor"
	"github.com/jacentio/strata/errs"
)

// separator is the NUL byte joining compound-key pieces, per spec.md §4.3.
const separator = "\x00"

// Encode collapses components into the single document identifier.
//
// When keyOrder has exactly one entry and that component is numeric, the
// encoded identifier is the bare numeric value (spec.md §4.3's "sole
// numeric key" fast path). Otherwise each component is rendered —
// strings verbatim (rejecting embedded NUL), everything else as
// canonical JSON with object keys sorted — and the pieces are joined
// with the NUL separator in keyOrder's (lexicographic) order.
func Encode(keyOrder []string, tags map[string]descriptor.TypeTag, components map[string]any) (string, error) {
	if len(keyOrder) == 0 {
		return "", errs.New(errs.KindInvalidField, "key must have at least one component")
	}

	if len(keyOrder) == 1 {
		name := keyOrder[0]
		if tags[name] == descriptor.TypeInteger || tags[name] == descriptor.TypeNumber {
			v, ok := components[name]
			if !ok {
				return "", errs.New(errs.KindInvalidField, "missing key component %q", name)
			}
			return numericString(v)
		}
	}

	pieces := make([]string, 0, len(keyOrder))
	for _, name := range keyOrder {
		v, ok := components[name]
		if !ok {
			return "", errs.New(errs.KindInvalidField, "missing key component %q", name)
		}
		piece, err := encodeComponent(name, tags[name], v)
		if err != nil {
			return "", err
		}
		pieces = append(pieces, piece)
	}
	return strings.Join(pieces, separator), nil
}

// Decode splits encoded back into a component map shaped like keyOrder,
// parsing each piece per its declared type. Decode(Encode(x)) == x for
// all x satisfying the key schema (spec.md §8).
func Decode(keyOrder []string, tags map[string]descriptor.TypeTag, encoded string) (map[string]any, error) {
	if len(keyOrder) == 0 {
		return nil, errs.New(errs.KindInvalidField, "key must have at least one component")
	}

	if len(keyOrder) == 1 {
		name := keyOrder[0]
		if tags[name] == descriptor.TypeInteger || tags[name] == descriptor.TypeNumber {
			v, err := parseNumeric(tags[name], encoded)
			if err != nil {
				return nil, err
			}
			return map[string]any{name: v}, nil
		}
	}

	pieces := strings.Split(encoded, separator)
	if len(pieces) != len(keyOrder) {
		return nil, errs.New(errs.KindInvalidField, "encoded key has %d components, expected %d", len(pieces), len(keyOrder))
	}

	out := make(map[string]any, len(keyOrder))
	for i, name := range keyOrder {
		v, err := decodeComponent(tags[name], pieces[i])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func encodeComponent(name string, tag descriptor.TypeTag, v any) (string, error) {
	switch tag {
	case descriptor.TypeString:
		s, ok := v.(string)
		if !ok {
			return "", errs.New(errs.KindInvalidField, "key component %q must be a string", name)
		}
		if strings.ContainsRune(s, 0) {
			return "", errs.New(errs.KindInvalidField, "key component %q contains an embedded NUL", name)
		}
		return s, nil
	case descriptor.TypeInteger, descriptor.TypeNumber:
		return numericString(v)
	default:
		canon, err := canonicalJSON(v)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidField, err, "key component %q failed to encode", name)
		}
		return canon, nil
	}
}

func decodeComponent(tag descriptor.TypeTag, piece string) (any, error) {
	switch tag {
	case descriptor.TypeString:
		return piece, nil
	case descriptor.TypeInteger, descriptor.TypeNumber:
		return parseNumeric(tag, piece)
	default:
		var v any
		if err := json.Unmarshal([]byte(piece), &v); err != nil {
			return nil, errs.Wrap(errs.KindInvalidField, err, "failed to decode key component")
		}
		return v, nil
	}
}

func numericString(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10), nil
		}
		return strconv.FormatFloat(n, 'g', -1, 64), nil
	default:
		return "", errs.New(errs.KindInvalidField, "numeric key component has non-numeric value %v (%T)", v, v)
	}
}

func parseNumeric(tag descriptor.TypeTag, s string) (any, error) {
	if tag == descriptor.TypeNumber {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidField, err, "failed to parse numeric key component")
		}
		return f, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidField, err, "failed to parse integer key component")
	}
	return n, nil
}

// canonicalJSON renders v as JSON with object keys sorted lexicographically
// at every nesting level, so two Go maps built in different insertion
// orders encode identically (spec.md §8's permutation invariant).
func canonicalJSON(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func canonicalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]json.RawMessage, 0, len(keys))
		for _, k := range keys {
			cv, err := canonicalize(t[k])
			if err != nil {
				return nil, err
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(cv)
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, json.RawMessage(string(kb)+":"+string(vb)))
		}
		return rawObject(ordered), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			cv, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return v, nil
	}
}

// rawObject marshals as a JSON object whose members appear in the given
// pre-rendered "key":value order.
type rawObject []json.RawMessage

func (r rawObject) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, m := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(m)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
