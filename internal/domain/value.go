package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags the dynamic type of a manifest [Value].
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
)

// Value is a tagged sum over the dynamic types a manifest property tree can
// hold. It replaces ad-hoc interface{} trees with a type that dotted-path
// accessors can operate on without repeated type assertions at every call
// site. Decoders (YAML) produce a Value; the property binder, the manifest
// parser, and property mappings all operate purely in terms of Value.
type Value struct {
	Kind Kind
	Bool bool
	Int  int64
	// Float is the payload when Kind == KindFloat; Int is authoritative
	// whenever Kind == KindInt.
	Float    float64
	Str      string
	Seq      []Value
	Mapping  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// NewString returns a string value.
func NewString(s string) Value { return Value{Kind: KindString, Str: s} }

// NewInt returns an integer value.
func NewInt(i int64) Value { return Value{Kind: KindInt, Int: i} }

// NewFloat returns a float value.
func NewFloat(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// NewBool returns a bool value.
func NewBool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NewMapping returns an empty mapping value.
func NewMapping() Value { return Value{Kind: KindMapping, Mapping: map[string]Value{}} }

// NewSequence returns a sequence value wrapping the given elements.
func NewSequence(vs ...Value) Value { return Value{Kind: KindSequence, Seq: vs} }

// FromAny converts a decoded YAML/JSON tree (map[string]any, []any, string,
// int, int64, float64, bool, nil) into a [Value] tree.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return NewBool(t)
	case int:
		return NewInt(int64(t))
	case int64:
		return NewInt(t)
	case float64:
		return NewFloat(t)
	case string:
		return NewString(t)
	case []any:
		seq := make([]Value, len(t))
		for i, e := range t {
			seq[i] = FromAny(e)
		}
		return Value{Kind: KindSequence, Seq: seq}
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Value{Kind: KindMapping, Mapping: m}
	case map[any]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[fmt.Sprintf("%v", k)] = FromAny(e)
		}
		return Value{Kind: KindMapping, Mapping: m}
	default:
		return NewString(fmt.Sprintf("%v", t))
	}
}

// ToAny converts a [Value] tree back into a plain any tree, for
// JSON/YAML re-serialization (e.g. storing bound properties).
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindSequence:
		out := make([]any, len(v.Seq))
		for i, e := range v.Seq {
			out[i] = e.ToAny()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.Mapping))
		for k, e := range v.Mapping {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// splitPath splits a dotted path into its segments. Empty segments (leading,
// trailing, or doubled dots) are rejected by callers that validate paths;
// Get/Set treat them permissively by skipping them.
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get resolves a dotted path against a mapping value. It returns false if
// any segment of the path is absent or the value is not a mapping at some
// point along the way.
func (v Value) Get(path string) (Value, bool) {
	segs := splitPath(path)
	cur := v
	for _, seg := range segs {
		if cur.Kind != KindMapping {
			return Value{}, false
		}
		next, ok := cur.Mapping[seg]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Set materializes a dotted path into nested mappings and assigns val at
// the leaf, mutating v in place. v must be a mapping (or null, which is
// promoted to an empty mapping).
func (v *Value) Set(path string, val Value) {
	segs := splitPath(path)
	if len(segs) == 0 {
		*v = val
		return
	}
	if v.Kind != KindMapping {
		*v = NewMapping()
	}
	*v = setPath(*v, segs, val)
}

// setPath returns a copy of m with val assigned at the nested path segs,
// materializing intermediate mappings as needed. Map values in Go are not
// addressable, so the recursive return-and-reassign form is used instead of
// chasing pointers into map storage.
func setPath(m Value, segs []string, val Value) Value {
	if m.Kind != KindMapping {
		m = NewMapping()
	}
	seg, rest := segs[0], segs[1:]
	if len(rest) == 0 {
		m.Mapping[seg] = val
		return m
	}
	child := m.Mapping[seg]
	m.Mapping[seg] = setPath(child, rest, val)
	return m
}

// Delete removes the value at a dotted path, if present. Returns true if
// something was removed.
func (v *Value) Delete(path string) bool {
	segs := splitPath(path)
	if len(segs) == 0 || v.Kind != KindMapping {
		return false
	}
	removed, newVal := deletePath(*v, segs)
	*v = newVal
	return removed
}

func deletePath(m Value, segs []string) (bool, Value) {
	if m.Kind != KindMapping {
		return false, m
	}
	seg, rest := segs[0], segs[1:]
	if len(rest) == 0 {
		if _, ok := m.Mapping[seg]; !ok {
			return false, m
		}
		delete(m.Mapping, seg)
		return true, m
	}
	child, ok := m.Mapping[seg]
	if !ok {
		return false, m
	}
	removed, newChild := deletePath(child, rest)
	if removed {
		m.Mapping[seg] = newChild
	}
	return removed, m
}

// Merge returns a new mapping value that is the deep merge of base and
// overlay, with overlay values taking precedence at every leaf. Both must
// be mappings (or null, treated as empty).
func Merge(base, overlay Value) Value {
	out := NewMapping()
	if base.Kind == KindMapping {
		for k, v := range base.Mapping {
			out.Mapping[k] = v
		}
	}
	if overlay.Kind == KindMapping {
		for k, ov := range overlay.Mapping {
			if bv, ok := out.Mapping[k]; ok && bv.Kind == KindMapping && ov.Kind == KindMapping {
				out.Mapping[k] = Merge(bv, ov)
			} else {
				out.Mapping[k] = ov
			}
		}
	}
	return out
}

// SortedKeys returns the mapping's keys in lexicographic order, for
// deterministic iteration (digest hashing, rendering).
func (v Value) SortedKeys() []string {
	if v.Kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.Mapping))
	for k := range v.Mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of v, so callers can mutate the result via
// Set/Delete without aliasing the source's underlying maps/slices.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindSequence:
		seq := make([]Value, len(v.Seq))
		for i, e := range v.Seq {
			seq[i] = e.Clone()
		}
		return Value{Kind: KindSequence, Seq: seq}
	case KindMapping:
		m := make(map[string]Value, len(v.Mapping))
		for k, e := range v.Mapping {
			m[k] = e.Clone()
		}
		return Value{Kind: KindMapping, Mapping: m}
	default:
		return v
	}
}

// Equal reports deep structural equality between two Values.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindSequence:
		if len(v.Seq) != len(o.Seq) {
			return false
		}
		for i := range v.Seq {
			if !v.Seq[i].Equal(o.Seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.Mapping) != len(o.Mapping) {
			return false
		}
		for k, vv := range v.Mapping {
			ov, ok := o.Mapping[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
