// Package view computes the parameters that vary across a set of statepoints
// and projects each statepoint onto a browsable tree of symbolic links.
package view

import (
	"fmt"
	"sort"
	"strings"

	"paramspace/pkg/statepoint"
)

// KeyPath names a possibly nested statepoint field.
type KeyPath []string

// String returns the dotted form used as a view path segment.
func (k KeyPath) String() string { return strings.Join(k, ".") }

// DefaultMaxDepth bounds aggregator recursion when Aggregator.MaxDepth is zero.
const DefaultMaxDepth = statepoint.DefaultMaxDepth

// missingMember stands for "key absent" in a value set. It cannot collide
// with a canonical encoding, which is always valid JSON.
const missingMember = "\x00missing"

// Aggregator finds discriminating key-paths.
type Aggregator struct {
	MaxDepth int
}

type candidate struct {
	path  KeyPath
	card  int
	order int
}

// DiscriminatingKeys returns the key-paths whose values vary across sps,
// ordered by depth, then by number of distinct values, then by discovery
// order. Keys are discovered in sorted order at every level, so the result
// does not depend on the order of sps or on map iteration.
//
// A key whose present values are all objects is replaced by the keys that
// vary inside those objects. Other compound values participate through their
// digest, so two sequences are "equal" here exactly when their canonical
// encodings are.
func (a Aggregator) DiscriminatingKeys(sps []statepoint.Object) ([]KeyPath, error) {
	limit := a.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	var found []candidate
	if err := aggregate(sps, nil, limit, &found); err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool {
		if len(found[i].path) != len(found[j].path) {
			return len(found[i].path) < len(found[j].path)
		}
		if found[i].card != found[j].card {
			return found[i].card < found[j].card
		}
		return found[i].order < found[j].order
	})
	out := make([]KeyPath, len(found))
	for i, c := range found {
		out[i] = c.path
	}
	return out, nil
}

// DiscriminatingKeys runs the default aggregator.
func DiscriminatingKeys(sps []statepoint.Object) ([]KeyPath, error) {
	return Aggregator{}.DiscriminatingKeys(sps)
}

func aggregate(sps []statepoint.Object, prefix KeyPath, budget int, found *[]candidate) error {
	if budget == 0 {
		return fmt.Errorf("aggregate %s: %w", KeyPath(prefix), statepoint.ErrDepthExceeded)
	}
	for _, key := range unionKeys(sps) {
		path := append(append(KeyPath{}, prefix...), key)

		var nested []statepoint.Object
		allObjects := true
		for _, sp := range sps {
			v, ok := sp[key]
			if !ok {
				continue
			}
			obj, isObj := v.(statepoint.Object)
			if !isObj {
				allObjects = false
				break
			}
			nested = append(nested, obj)
		}
		if allObjects {
			if err := aggregate(nested, path, budget-1, found); err != nil {
				return err
			}
			continue
		}

		members := make(map[string]struct{})
		for _, sp := range sps {
			v, ok := sp[key]
			if !ok {
				members[missingMember] = struct{}{}
				continue
			}
			m, err := member(v)
			if err != nil {
				return fmt.Errorf("aggregate %s: %w", path, err)
			}
			members[m] = struct{}{}
		}
		if len(members) > 1 {
			*found = append(*found, candidate{path: path, card: len(members), order: len(*found)})
		}
	}
	return nil
}

// member returns the set element for v: the canonical encoding for scalars
// and the encoding of the digest stand-in for compound values.
func member(v statepoint.Value) (string, error) {
	if statepoint.IsCompound(v) {
		id, err := statepoint.Digest(v)
		if err != nil {
			return "", err
		}
		v = statepoint.String(id)
	}
	b, err := statepoint.Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unionKeys(sps []statepoint.Object) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, sp := range sps {
		for k := range sp {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
