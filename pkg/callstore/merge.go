package callstore

// merge applies the store's merge-on-write rule and returns the value to
// persist. Inputs are never mutated; record and list results are fresh
// allocations.
func merge(existing, incoming any) any {
	if existing == nil {
		return deepCopy(incoming)
	}

	if existingRec, ok := asRecord(existing); ok {
		if incomingRec, ok := asRecord(incoming); ok {
			merged := make(map[string]any, len(existingRec)+len(incomingRec))
			for k, v := range existingRec {
				merged[k] = deepCopy(v)
			}
			for k, v := range incomingRec {
				merged[k] = deepCopy(v)
			}
			return merged
		}
	}

	if existingList, ok := asList(existing); ok {
		appended := make([]any, 0, len(existingList)+1)
		for _, v := range existingList {
			appended = append(appended, deepCopy(v))
		}
		return append(appended, deepCopy(incoming))
	}

	return deepCopy(incoming)
}

func asRecord(v any) (map[string]any, bool) {
	rec, ok := v.(map[string]any)
	return rec, ok
}

func asList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}

// deepCopy clones records and lists so the store never shares mutable state
// with its callers. Scalars are returned as-is.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
