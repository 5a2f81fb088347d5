package ctxstore

// JSONMerge implements the deterministic recursive merge from spec §4.3:
// if both a and b are JSON objects, recurse key-wise; otherwise b wins
// (last-writer-wins for scalars, arrays, and type mismatches).
func JSONMerge(a, b interface{}) interface{} {
	am, aIsObj := a.(map[string]interface{})
	bm, bIsObj := b.(map[string]interface{})
	if !aIsObj || !bIsObj {
		return b
	}

	out := make(map[string]interface{}, len(am)+len(bm))
	for k, av := range am {
		out[k] = av
	}
	for k, bv := range bm {
		if av, ok := am[k]; ok {
			out[k] = JSONMerge(av, bv)
		} else {
			out[k] = bv
		}
	}
	return out
}
