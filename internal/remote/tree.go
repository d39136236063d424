package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Tree is a JSON tree with realtime-database semantics: objects with no
// children vanish, nil deletes, and arrays are held as index-keyed objects.
// Tree is not safe for concurrent use.
type Tree struct {
	root any
}

// NewTree builds a tree from any JSON-encodable value.
func NewTree(root any) (*Tree, error) {
	v, err := Normalize(root)
	if err != nil {
		return nil, err
	}
	return &Tree{root: v}, nil
}

// Normalize converts v into the canonical stored form: maps of string keys,
// float64, string and bool leaves, with arrays turned into index-keyed maps
// and empty containers dropped.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return canonical(decoded)
}

func canonical(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, c := range x {
			if err := CheckKey(k); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
			}
			cc, err := canonical(c)
			if err != nil {
				return nil, err
			}
			if cc == nil {
				delete(x, k)
				continue
			}
			x[k] = cc
		}
		if len(x) == 0 {
			return nil, nil
		}
		return x, nil
	case []any:
		m := make(map[string]any, len(x))
		for i, c := range x {
			cc, err := canonical(c)
			if err != nil {
				return nil, err
			}
			if cc != nil {
				m[strconv.Itoa(i)] = cc
			}
		}
		if len(m) == 0 {
			return nil, nil
		}
		return m, nil
	default:
		return x, nil
	}
}

// Root returns the canonical root value. The caller must not modify it.
func (t *Tree) Root() any { return t.root }

// Get returns a deep copy of the value at path in its exported form.
func (t *Tree) Get(path string) any {
	return Export(lookup(t.root, Segments(path)))
}

func lookup(node any, segs []string) any {
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[s]
	}
	return node
}

// Set overwrites the value at path. The path must be clean.
func (t *Tree) Set(path string, value any) error {
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	t.put(Segments(path), v)
	return nil
}

// Update merges fields into path atomically: either every field is applied
// or none is.
func (t *Tree) Update(path string, fields map[string]any) error {
	type change struct {
		segs  []string
		value any
	}
	changes := make([]change, 0, len(fields))
	for k, raw := range fields {
		rel, err := CleanPath(k)
		if err != nil {
			return err
		}
		if rel == "" {
			return fmt.Errorf("%w: empty update key", ErrInvalidPath)
		}
		v, err := Normalize(raw)
		if err != nil {
			return err
		}
		changes = append(changes, change{segs: Segments(Join(path, rel)), value: v})
	}
	for _, c := range changes {
		t.put(c.segs, c.value)
	}
	return nil
}

func (t *Tree) put(segs []string, v any) {
	if len(segs) == 0 {
		t.root = v
		return
	}
	if v == nil {
		t.root = prune(t.root, segs)
		return
	}
	root, ok := t.root.(map[string]any)
	if !ok {
		root = map[string]any{}
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[s] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = v
	t.root = root
}

func prune(node any, segs []string) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	if len(segs) == 1 {
		delete(m, segs[0])
	} else if child := prune(m[segs[0]], segs[1:]); child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Clone returns an independent copy of the tree.
func (t *Tree) Clone() *Tree {
	return &Tree{root: deepCopy(t.root)}
}

func deepCopy(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		out[k] = deepCopy(c)
	}
	return out
}

// Export deep-copies a canonical value, turning objects whose keys are
// exactly 0..n-1 back into arrays.
func Export(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		out[k] = Export(c)
	}
	if arr, ok := asArray(out); ok {
		return arr
	}
	return out
}

func asArray(m map[string]any) ([]any, bool) {
	arr := make([]any, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return nil, false
		}
		arr[i] = v
	}
	return arr, true
}

// Flatten calls emit for every leaf below v, with paths relative to v.
// A scalar v is emitted at the empty path.
func Flatten(v any, emit func(path string, leaf any)) {
	flatten("", v, emit)
}

func flatten(prefix string, v any, emit func(string, any)) {
	m, ok := v.(map[string]any)
	if !ok {
		if v != nil {
			emit(prefix, v)
		}
		return
	}
	for k, c := range m {
		flatten(Join(prefix, k), c, emit)
	}
}
