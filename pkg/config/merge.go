package config

// Merge deep-merges src into dst and returns the result; neither input is
// modified. Mapping values merge recursively, src wins on scalar conflicts,
// and sequences are replaced wholesale rather than concatenated.
func Merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		dstMap, dstOK := asMap(out[k])
		srcMap, srcOK := asMap(v)
		if dstOK && srcOK {
			out[k] = Merge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

// asMap normalizes the mapping shapes yaml.v3 produces for nested values
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
