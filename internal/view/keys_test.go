package view

import (
	"errors"
	"reflect"
	"testing"

	"paramspace/pkg/statepoint"
)

func objects(t *testing.T, raw ...map[string]any) []statepoint.Object {
	t.Helper()
	out := make([]statepoint.Object, len(raw))
	for i, r := range raw {
		obj, err := statepoint.ObjectFromGo(r)
		if err != nil {
			t.Fatalf("object %d: %v", i, err)
		}
		out[i] = obj
	}
	return out
}

func keyStrings(keys []KeyPath) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func TestDiscriminatingKeys(t *testing.T) {
	cases := []struct {
		name string
		sps  []map[string]any
		want []string
	}{
		{
			name: "minimality",
			sps:  []map[string]any{{"a": 0, "b": 0, "c": 1}, {"a": 1, "b": 0, "c": 1}, {"a": 0, "b": 1, "c": 1}},
			want: []string{"a", "b"},
		},
		{
			name: "heterogeneity",
			sps:  []map[string]any{{"a": 0}, {"a": 1, "b": 2}},
			want: []string{"a", "b"},
		},
		{
			name: "nesting",
			sps:  []map[string]any{{"a": map[string]any{"x": 0}}, {"a": map[string]any{"x": 1}}},
			want: []string{"a.x"},
		},
		{
			name: "constant",
			sps:  []map[string]any{{"a": 0, "b": 0}, {"a": 1, "b": 0}, {"a": 2, "b": 0}},
			want: []string{"a"},
		},
		{
			name: "single varying key",
			sps:  []map[string]any{{"a": 0}, {"a": 1}},
			want: []string{"a"},
		},
		{
			name: "empty nested objects",
			sps:  []map[string]any{{"a": 0, "c": map[string]any{}}, {"a": 1, "c": map[string]any{}}},
			want: []string{"a"},
		},
		{
			name: "nested key lacking everywhere but one",
			sps:  []map[string]any{{"a": 0, "c": map[string]any{}}, {"a": 1, "c": map[string]any{"x": 1}}},
			want: []string{"a", "c.x"},
		},
		{
			name: "cardinality order",
			sps: []map[string]any{
				{"a": 0, "z": 0}, {"a": 1, "z": 0}, {"a": 2, "z": 1}, {"a": 3, "z": 1},
			},
			want: []string{"z", "a"},
		},
		{
			name: "depth before cardinality",
			sps: []map[string]any{
				{"n": map[string]any{"x": 0}, "a": 0}, {"n": map[string]any{"x": 1}, "a": 1}, {"n": map[string]any{"x": 1}, "a": 2},
			},
			want: []string{"a", "n.x"},
		},
		{
			name: "sequences use digest",
			sps:  []map[string]any{{"l": []any{1, 2}}, {"l": []any{2, 1}}, {"l": []any{1, 2}}},
			want: []string{"l"},
		},
		{
			name: "equal sequences do not vary",
			sps:  []map[string]any{{"l": []any{1, 2}, "a": 1}, {"l": []any{1, 2}, "a": 2}},
			want: []string{"a"},
		},
		{
			name: "mixed object and scalar",
			sps:  []map[string]any{{"m": map[string]any{"x": 1}}, {"m": 3}},
			want: []string{"m"},
		},
		{
			name: "nested missing",
			sps:  []map[string]any{{"a": map[string]any{"x": 1}}, {"a": map[string]any{"x": 1, "y": 2}}},
			want: []string{"a.y"},
		},
		{
			name: "single point",
			sps:  []map[string]any{{"a": 1}},
			want: []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keys, err := DiscriminatingKeys(objects(t, tc.sps...))
			if err != nil {
				t.Fatalf("aggregate: %v", err)
			}
			got := keyStrings(keys)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("keys = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiscriminatingKeysOrderIsDeterministic(t *testing.T) {
	raw := []map[string]any{
		{"b": 0, "a": 0, "n": map[string]any{"q": 1, "p": 0}},
		{"b": 1, "a": 1, "n": map[string]any{"q": 2, "p": 1}},
		{"b": 0, "a": 2, "n": map[string]any{"q": 3, "p": 0}},
	}
	forward := objects(t, raw...)
	reversed := make([]statepoint.Object, len(forward))
	for i := range forward {
		reversed[len(forward)-1-i] = forward[i]
	}
	first, err := DiscriminatingKeys(forward)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := DiscriminatingKeys(reversed)
		if err != nil {
			t.Fatalf("aggregate: %v", err)
		}
		if !reflect.DeepEqual(keyStrings(first), keyStrings(again)) {
			t.Fatalf("order changed: %v vs %v", keyStrings(first), keyStrings(again))
		}
	}
	want := []string{"b", "a", "n.p", "n.q"}
	if !reflect.DeepEqual(keyStrings(first), want) {
		t.Fatalf("keys = %v, want %v", keyStrings(first), want)
	}
}

func TestDiscriminatingKeysDepthGuard(t *testing.T) {
	deep := func(leaf int) statepoint.Object {
		var v statepoint.Value = statepoint.Int(int64(leaf))
		for i := 0; i < 8; i++ {
			v = statepoint.Object{"n": v}
		}
		return v.(statepoint.Object)
	}
	_, err := Aggregator{MaxDepth: 4}.DiscriminatingKeys([]statepoint.Object{deep(0), deep(1)})
	if !errors.Is(err, statepoint.ErrDepthExceeded) {
		t.Fatalf("expected depth error, got %v", err)
	}
	keys, err := Aggregator{MaxDepth: 16}.DiscriminatingKeys([]statepoint.Object{deep(0), deep(1)})
	if err != nil || len(keys) != 1 || len(keys[0]) != 8 {
		t.Fatalf("unexpected result %v %v", keys, err)
	}
}
