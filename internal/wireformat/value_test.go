package wireformat

import (
	"reflect"
	"testing"
)

func TestRoundTripPrimitives(t *testing.T) {
	cases := []any{nil, true, false, 7.0, "hello", []any{1.0, "x", nil}, map[string]any{"a": 1.0, "b": []any{true}}}
	for _, v := range cases {
		b, err := ToJSON(v)
		if err != nil {
			t.Fatalf("ToJSON(%v): %v", v, err)
		}
		got, err := FromJSON(b)
		if err != nil {
			t.Fatalf("FromJSON(%s): %v", b, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Fatalf("round trip mismatch: want %#v got %#v", v, got)
		}
	}
}

type fakeObject struct {
	name string
	addr uintptr
}

func (f *fakeObject) ObjectName() (string, bool) {
	if f.name == "" {
		return "", false
	}
	return f.name, true
}
func (f *fakeObject) ObjectAddr() uintptr { return f.addr }

func TestOrderedMapKeyCoercion(t *testing.T) {
	m := &OrderedMap{}
	m.Set("plain", 1.0)
	m.Set(true, "bool-key")
	m.Set(nil, "nil-key")
	m.Set(&fakeObject{name: "aSymbol"}, "named")
	m.Set(&fakeObject{addr: 0xbeef}, "fallback")

	b, err := ToJSON(m)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := FromJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	obj := decoded.(map[string]any)
	want := map[string]any{
		"plain":         1.0,
		"true":          "bool-key",
		"nil":           "nil-key",
		"aSymbol":       "named",
		"object_48879":  "fallback",
	}
	for k, v := range want {
		if obj[k] != v {
			t.Fatalf("key %q: want %v got %v", k, v, obj[k])
		}
	}
}
