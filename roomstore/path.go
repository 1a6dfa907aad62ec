/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package roomstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}

	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}

	return segs, nil
}

func joinPath(segs []string) string {
	return strings.Join(segs, "/")
}

// related reports whether a write at w is visible to a listener at l,
// i.e. one path is a prefix of the other.
func related(l, w []string) bool {
	n := min(len(l), len(w))
	for i := 0; i < n; i++ {
		if l[i] != w[i] {
			return false
		}
	}
	return true
}

// normalize converts an arbitrary Go value into the JSON-like shapes held by
// the tree: map[string]any, []any, float64, bool, string or nil.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	return out, nil
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, c := range t {
			m[k] = clone(c)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, c := range t {
			s[i] = clone(c)
		}
		return s
	default:
		return t
	}
}

func getAt(root map[string]any, segs []string) (any, bool) {
	var cur any = root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setAt writes v at segs, creating intermediate nodes. A nil value (or an
// empty map) deletes the node and prunes parents left empty.
func setAt(root map[string]any, segs []string, v any) {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		v = nil
	}

	if v == nil {
		removeAt(root, segs)
		return
	}

	cur := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func removeAt(root map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}

	parent, ok := root, true
	if len(segs) > 1 {
		var node any
		node, ok = getAt(root, segs[:len(segs)-1])
		if ok {
			parent, ok = node.(map[string]any)
		}
	}
	if !ok {
		return
	}

	delete(parent, segs[len(segs)-1])
	if len(parent) == 0 && len(segs) > 1 {
		removeAt(root, segs[:len(segs)-1])
	}
}
