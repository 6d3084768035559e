package mapping

// Merge applies patch to base following JSON merge-patch semantics
// (RFC 7386) and returns the result. Neither argument is modified.
//
//   - a null value in patch deletes the key from the result
//   - a mapping in patch merges recursively into the mapping held by base
//   - any other value (scalar or sequence) replaces the base value
func Merge(base, patch Mapping) Mapping {
	out := base.Clone()
	mergeInto(out, patch)
	return out
}

func mergeInto(dst Mapping, patch Mapping) {
	for k, pv := range patch {
		if pv == nil {
			delete(dst, k)
			continue
		}
		pm, patchIsMap := AsMapping(pv)
		if !patchIsMap {
			dst[k] = cloneValue(Normalize(pv))
			continue
		}
		dm, dstIsMap := AsMapping(dst[k])
		if !dstIsMap {
			// Merging into nothing still strips nulls from the patch.
			dm = Mapping{}
		}
		mergeInto(dm, pm)
		dst[k] = map[string]any(dm)
	}
}
