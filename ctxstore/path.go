package ctxstore

import "strings"

// PathNotFoundError is returned by dotted-path get/delete operations when
// an intermediate or terminal segment is absent (spec §4.3 "Path get"/
// "Path delete").
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string {
	return "context path not found: " + e.Path
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// GetNestedValue walks the dotted path from root, returning the subtree
// found there or a *PathNotFoundError if any segment is absent.
func GetNestedValue(root map[string]interface{}, path string) (interface{}, error) {
	segs := splitPath(path)
	var cur interface{} = root
	for _, seg := range segs {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, &PathNotFoundError{Path: path}
		}
		v, ok := m[seg]
		if !ok {
			return nil, &PathNotFoundError{Path: path}
		}
		cur = v
	}
	return cur, nil
}

// DeleteNestedValue walks the dotted path and removes the terminal key.
// Intermediate empty objects left behind are NOT pruned (spec §4.3: "key
// absent" and "key present with empty object" must remain distinguishable).
func DeleteNestedValue(root map[string]interface{}, path string) error {
	segs := splitPath(path)
	if len(segs) == 0 || segs[0] == "" {
		return &PathNotFoundError{Path: path}
	}

	cur := root
	for _, seg := range segs[:len(segs)-1] {
		v, ok := cur[seg]
		if !ok {
			return &PathNotFoundError{Path: path}
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return &PathNotFoundError{Path: path}
		}
		cur = m
	}

	last := segs[len(segs)-1]
	if _, ok := cur[last]; !ok {
		return &PathNotFoundError{Path: path}
	}
	delete(cur, last)
	return nil
}
