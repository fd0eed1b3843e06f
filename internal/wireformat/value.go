package wireformat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FromJSON decodes UTF-8 JSON bytes into the host value representation:
// null -> nil, true/false -> bool, number -> float64, string -> string,
// array -> []any (order preserved), object -> map[string]any.
func FromJSON(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("wireformat: decode: %w", err)
	}
	return normalizeNumbers(v), nil
}

// normalizeNumbers converts json.Number leaves (from UseNumber) to float64,
// matching the spec's "number -> host number" rule. Integers beyond
// float64's exact range lose precision here exactly as they would under
// encoding/json's default decoder, since json.Number.Float64 rounds the same
// way.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

// HostObject is implemented by host-side object references that can appear
// as mapping keys or values. Objects without a name fall back to
// "object_<addr>" per the marshalling spec.
type HostObject interface {
	ObjectName() (string, bool)
	ObjectAddr() uintptr
}

// OrderedMap is a host mapping whose keys are not necessarily strings:
// numbers, booleans, nil, or HostObjects are all valid keys on the host
// side. ToJSON coerces every key to a string using the rules in §4.5 of the
// bridge's value-mapping contract.
type OrderedMap struct {
	Keys []any
	Vals []any
}

func (m *OrderedMap) Set(key, val any) {
	m.Keys = append(m.Keys, key)
	m.Vals = append(m.Vals, val)
}

// ToJSON renders a host value tree (which may contain OrderedMap and
// HostObject nodes in addition to the plain JSON-native types) as bytes.
func ToJSON(v any) ([]byte, error) {
	return json.Marshal(toJSONTree(v))
}

func toJSONTree(v any) any {
	switch t := v.(type) {
	case *OrderedMap:
		out := make(map[string]any, len(t.Keys))
		for i, k := range t.Keys {
			out[coerceKey(k)] = toJSONTree(t.Vals[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toJSONTree(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJSONTree(e)
		}
		return out
	case HostObject:
		if name, ok := t.ObjectName(); ok {
			return name
		}
		return fmt.Sprintf("object_%d", t.ObjectAddr())
	default:
		return v
	}
}

// coerceKey implements the host-mapping-key-to-string coercion: numbers by
// exact textual representation, booleans as true/false, nil as "nil",
// otherwise by object name or the object_<addr> fallback.
func coerceKey(key any) string {
	switch t := key.(type) {
	case nil:
		return "nil"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case HostObject:
		if name, ok := t.ObjectName(); ok {
			return name
		}
		return fmt.Sprintf("object_%d", t.ObjectAddr())
	default:
		return fmt.Sprintf("%v", t)
	}
}

// SortedKeys returns m's JSON-coerced keys in a deterministic order, useful
// for tests that need a stable iteration over an OrderedMap's rendering.
func (m *OrderedMap) SortedKeys() []string {
	out := make([]string, len(m.Keys))
	for i, k := range m.Keys {
		out[i] = coerceKey(k)
	}
	sort.Strings(out)
	return out
}
