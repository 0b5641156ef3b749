// Package diff computes structural diffs between JSON-like configuration
// trees and re-applies them. A diff is an ordered sequence of add, remove,
// and edit entries; applying Diff(a, b) to a always reconstructs b.
//
// The wire shape of an entry is {t, p, o, n}: operation, path segments, old
// value, new value. Diff rows persisted by the store use exactly this shape,
// so the format is stable across releases.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Op identifies the kind of transformation an Entry performs.
type Op string

// Diff operations.
const (
	OpAdd    Op = "a"
	OpRemove Op = "r"
	OpEdit   Op = "e"
)

// Path addresses a node in a tree. Segments are string map keys or integer
// slice indices. A Path that has been through a JSON round-trip carries
// float64 indices; Apply accepts both.
type Path []any

// Key returns the first path segment as a string. It is used to group
// entries by their top-level module key; a non-string first segment
// returns the empty string.
func (p Path) Key() string {
	if len(p) == 0 {
		return ""
	}
	s, _ := p[0].(string)
	return s
}

// Entry is a single structural transformation.
type Entry struct {
	T Op   `json:"t"`
	P Path `json:"p"`
	O any  `json:"o,omitempty"`
	N any  `json:"n,omitempty"`
}

// Diff computes the ordered set of entries that transform oldTree into
// newTree. The result is deterministic: map keys are visited in sorted
// order, slice edits ascend by index, and slice removals are emitted in
// descending index order so that sequential application is well defined.
func Diff(oldTree, newTree any) []Entry {
	var entries []Entry
	walk(nil, oldTree, newTree, &entries)
	return entries
}

func walk(path Path, oldV, newV any, out *[]Entry) {
	if om, ok := oldV.(map[string]any); ok {
		if nm, ok := newV.(map[string]any); ok {
			walkMaps(path, om, nm, out)
			return
		}
	}
	if oa, ok := oldV.([]any); ok {
		if na, ok := newV.([]any); ok {
			walkSlices(path, oa, na, out)
			return
		}
	}
	if !reflect.DeepEqual(oldV, newV) {
		*out = append(*out, Entry{T: OpEdit, P: path, O: oldV, N: newV})
	}
}

func walkMaps(path Path, oldM, newM map[string]any, out *[]Entry) {
	keys := make([]string, 0, len(oldM)+len(newM))
	seen := make(map[string]bool, len(oldM)+len(newM))
	for k := range oldM {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range newM {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		ov, inOld := oldM[k]
		nv, inNew := newM[k]
		switch {
		case inOld && !inNew:
			*out = append(*out, Entry{T: OpRemove, P: childPath(path, k), O: ov})
		case !inOld && inNew:
			*out = append(*out, Entry{T: OpAdd, P: childPath(path, k), N: nv})
		default:
			walk(childPath(path, k), ov, nv, out)
		}
	}
}

func walkSlices(path Path, oldS, newS []any, out *[]Entry) {
	common := len(oldS)
	if len(newS) < common {
		common = len(newS)
	}
	for i := 0; i < common; i++ {
		walk(childPath(path, i), oldS[i], newS[i], out)
	}
	// Additions ascend so each append lands at the current tail.
	for i := common; i < len(newS); i++ {
		*out = append(*out, Entry{T: OpAdd, P: childPath(path, i), N: newS[i]})
	}
	// Removals descend so earlier removals don't shift later indices.
	for i := len(oldS) - 1; i >= common; i-- {
		*out = append(*out, Entry{T: OpRemove, P: childPath(path, i), O: oldS[i]})
	}
}

// childPath copies the parent path before appending so sibling entries
// never alias each other's backing arrays.
func childPath(path Path, seg any) Path {
	child := make(Path, len(path)+1)
	copy(child, path)
	child[len(path)] = seg
	return child
}

// Apply applies entries in order to a deep copy of tree and returns the
// result. Applying Diff(a, b) to a yields a tree deep-equal to b. The
// input tree is never mutated.
func Apply(tree any, entries []Entry) (any, error) {
	result := Clone(tree)
	for i, e := range entries {
		var err error
		result, err = applyEntry(result, e)
		if err != nil {
			return nil, fmt.Errorf("apply entry %d (%s at %v): %w", i, e.T, e.P, err)
		}
	}
	return result, nil
}

func applyEntry(node any, e Entry) (any, error) {
	if len(e.P) == 0 {
		// Root-level operation: edit/add replace the whole tree.
		switch e.T {
		case OpAdd, OpEdit:
			return e.N, nil
		case OpRemove:
			return nil, nil
		}
		return nil, fmt.Errorf("unknown operation %q", e.T)
	}
	return applyAt(node, e.P, e)
}

func applyAt(node any, path Path, e Entry) (any, error) {
	if len(path) == 1 {
		return applyTerminal(node, path[0], e)
	}

	switch parent := node.(type) {
	case map[string]any:
		key, ok := path[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", path[0])
		}
		child, exists := parent[key]
		if !exists {
			return nil, fmt.Errorf("path segment %q not found", key)
		}
		updated, err := applyAt(child, path[1:], e)
		if err != nil {
			return nil, err
		}
		parent[key] = updated
		return parent, nil

	case []any:
		idx, err := sliceIndex(path[0])
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(parent) {
			return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(parent))
		}
		updated, err := applyAt(parent[idx], path[1:], e)
		if err != nil {
			return nil, err
		}
		parent[idx] = updated
		return parent, nil

	default:
		return nil, fmt.Errorf("cannot descend into %T", node)
	}
}

func applyTerminal(node any, seg any, e Entry) (any, error) {
	switch parent := node.(type) {
	case map[string]any:
		key, ok := seg.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", seg)
		}
		switch e.T {
		case OpAdd, OpEdit:
			parent[key] = e.N
		case OpRemove:
			delete(parent, key)
		default:
			return nil, fmt.Errorf("unknown operation %q", e.T)
		}
		return parent, nil

	case []any:
		idx, err := sliceIndex(seg)
		if err != nil {
			return nil, err
		}
		switch e.T {
		case OpEdit:
			if idx < 0 || idx >= len(parent) {
				return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(parent))
			}
			parent[idx] = e.N
			return parent, nil
		case OpAdd:
			if idx < 0 || idx > len(parent) {
				return nil, fmt.Errorf("index %d out of range for insert (len %d)", idx, len(parent))
			}
			if idx == len(parent) {
				return append(parent, e.N), nil
			}
			parent = append(parent, nil)
			copy(parent[idx+1:], parent[idx:])
			parent[idx] = e.N
			return parent, nil
		case OpRemove:
			if idx < 0 || idx >= len(parent) {
				return nil, fmt.Errorf("index %d out of range (len %d)", idx, len(parent))
			}
			return append(parent[:idx], parent[idx+1:]...), nil
		default:
			return nil, fmt.Errorf("unknown operation %q", e.T)
		}

	default:
		return nil, fmt.Errorf("cannot apply %s to %T", e.T, node)
	}
}

// sliceIndex coerces a path segment into a slice index. JSON decoding turns
// integer segments into float64, so both forms are accepted.
func sliceIndex(seg any) (int, error) {
	switch v := seg.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid index %q: %w", v, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer index, got %T", seg)
	}
}

// Clone returns a deep, structure-sharing-free copy of tree via a JSON
// round-trip. The copy carries JSON-normalized values (numbers become
// float64), which makes cloned trees directly comparable to trees decoded
// from the store. Values that cannot be marshaled are returned as-is.
func Clone(tree any) any {
	if tree == nil {
		return nil
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return tree
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return tree
	}
	return out
}

// Equal reports whether two trees are deep-equal after JSON normalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Clone(a), Clone(b))
}
