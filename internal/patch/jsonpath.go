package patch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/starford/blockpatch/internal/document"
)

// ErrPathNotFound is returned when a key path does not resolve.
var ErrPathNotFound = errors.New("patch: path not found")

// locate returns the array index a key or index segment selects in arr.
func locate(arr []any, seg document.Segment) (int, bool) {
	if i, ok := seg.Index(); ok {
		return i, i >= 0 && i < len(arr)
	}
	if k, ok := seg.Key(); ok {
		for i, e := range arr {
			if m, ok := e.(map[string]any); ok && m[document.PropKey] == k {
				return i, true
			}
		}
	}
	return -1, false
}

// GetIn returns the value at path inside a generic JSON value.
func GetIn(root any, path document.KeyPath) (any, bool) {
	cur := root
	for _, seg := range path {
		switch t := cur.(type) {
		case map[string]any:
			name, ok := seg.Field()
			if !ok {
				return nil, false
			}
			cur, ok = t[name]
			if !ok {
				return nil, false
			}
		case []any:
			i, ok := locate(t, seg)
			if !ok {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetIn returns a copy of root with value stored at path. Missing fields along
// the way are created as objects; missing array members are an error.
func SetIn(root any, path document.KeyPath, value any) (any, error) {
	if len(path) == 0 {
		return document.CloneAny(value), nil
	}
	seg, rest := path[0], path[1:]
	switch t := root.(type) {
	case map[string]any:
		name, ok := seg.Field()
		if !ok {
			return nil, fmt.Errorf("%w: %s on object", ErrPathNotFound, seg)
		}
		out := document.CloneAny(t).(map[string]any)
		child, exists := t[name]
		if !exists && len(rest) > 0 {
			child = map[string]any{}
		}
		nv, err := SetIn(child, rest, value)
		if err != nil {
			return nil, err
		}
		out[name] = nv
		return out, nil
	case []any:
		i, ok := locate(t, seg)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, seg)
		}
		out := document.CloneAny(t).([]any)
		nv, err := SetIn(t[i], rest, value)
		if err != nil {
			return nil, err
		}
		out[i] = nv
		return out, nil
	case nil:
		if name, ok := seg.Field(); ok {
			return SetIn(map[string]any{}, document.KeyPath{document.FieldSeg(name)}.Append(rest...), value)
		}
	}
	return nil, fmt.Errorf("%w: %s on %T", ErrPathNotFound, seg, root)
}

// UnsetIn returns a copy of root without the value at path, and whether
// anything was removed.
func UnsetIn(root any, path document.KeyPath) (any, bool, error) {
	if len(path) == 0 {
		return nil, root != nil, nil
	}
	seg, rest := path[0], path[1:]
	switch t := root.(type) {
	case map[string]any:
		name, ok := seg.Field()
		if !ok {
			return root, false, nil
		}
		child, exists := t[name]
		if !exists {
			return root, false, nil
		}
		out := document.CloneAny(t).(map[string]any)
		if len(rest) == 0 {
			delete(out, name)
			return out, true, nil
		}
		nv, changed, err := UnsetIn(child, rest)
		if err != nil || !changed {
			return root, false, err
		}
		out[name] = nv
		return out, true, nil
	case []any:
		i, ok := locate(t, seg)
		if !ok {
			return root, false, nil
		}
		out := document.CloneAny(t).([]any)
		if len(rest) == 0 {
			return slices.Delete(out, i, i+1), true, nil
		}
		nv, changed, err := UnsetIn(t[i], rest)
		if err != nil || !changed {
			return root, false, err
		}
		out[i] = nv
		return out, true, nil
	}
	return root, false, nil
}

// InsertIn returns a copy of root with items placed before or after the array
// member path points at. An index one past the end inserts at the end.
func InsertIn(root any, path document.KeyPath, pos Position, items []any) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: insert needs an array member", ErrPathNotFound)
	}
	parent, last := path[:len(path)-1], path[len(path)-1]
	arrV, ok := GetIn(root, parent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, parent)
	}
	arr, ok := arrV.([]any)
	if !ok {
		if arrV != nil {
			return nil, fmt.Errorf("%w: %s is not an array", ErrPathNotFound, parent)
		}
		arr = []any{}
	}
	at, found := locate(arr, last)
	if !found {
		i, isIndex := last.Index()
		if !isIndex || i < 0 || i > len(arr) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, last)
		}
		at = i
	} else if pos == After {
		at++
	}
	out := slices.Insert(slices.Clone(arr), at, document.CloneAny(items).([]any)...)
	return SetIn(root, parent, out)
}
