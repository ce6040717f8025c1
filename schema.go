package codex

import "sort"

// Schema maps logical field names to their descriptors.
type Schema map[string]Field

// fieldNames returns every logical name in deterministic order.
func (s Schema) fieldNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// storableNames returns the logical names of fields that persist to storage,
// optionally excluding sensitive ones. Virtual fields never persist.
func (s Schema) storableNames(includeSensitive bool) []string {
	names := make([]string, 0, len(s))
	for name, f := range s {
		if f.virtual() {
			continue
		}
		if f.Sensitive && !includeSensitive {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedKeys orders map keys so rendered SQL is deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// clone returns a shallow copy so merged schemas never mutate the manifest's
// map.
func (s Schema) clone() Schema {
	out := make(Schema, len(s))
	for name, f := range s {
		out[name] = f
	}
	return out
}
