package statepoint

import "testing"

func TestMatches(t *testing.T) {
	sp := MustObject(map[string]any{"a": 1, "b": 2, "c": map[string]any{"x": []any{1, 2}}})
	cases := []struct {
		name   string
		filter Object
		want   bool
	}{
		{"subset", MustObject(map[string]any{"a": 1}), true},
		{"wrong value", MustObject(map[string]any{"a": 2}), false},
		{"empty", Object{}, true},
		{"nil", nil, true},
		{"missing key", MustObject(map[string]any{"d": 1}), false},
		{"numeric policy", MustObject(map[string]any{"a": 1.0}), true},
		{"whole substructure", MustObject(map[string]any{"c": map[string]any{"x": []any{1, 2}}}), true},
		{"partial substructure", MustObject(map[string]any{"c": map[string]any{}}), false},
		{"string vs number", MustObject(map[string]any{"a": "1"}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(sp, tc.filter); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	sp := MustObject(map[string]any{"a": map[string]any{"b": map[string]any{"c": 3}}, "s": 1})
	v, ok := sp.Lookup([]string{"a", "b", "c"})
	if !ok || !Equal(v, Int(3)) {
		t.Fatalf("lookup a.b.c = %v %v", v, ok)
	}
	if _, ok := sp.Lookup([]string{"s", "x"}); ok {
		t.Fatalf("lookup through scalar should fail")
	}
	if _, ok := sp.Lookup([]string{"a", "missing"}); ok {
		t.Fatalf("lookup of missing key should fail")
	}
}

func TestObjectJSONRoundTrip(t *testing.T) {
	var sp Object
	if err := sp.UnmarshalJSON([]byte(`{"b":[1,{"z":null}],"a":"x"}`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := sp.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":"x","b":[1,{"z":null}]}` {
		t.Fatalf("unexpected encoding %s", out)
	}
	if _, err := ParseObject([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object document")
	}
}
