package datapipeline

import "encoding/json"

// distinctItems keeps only the first occurrence of each JSON-stringified
// value of cfg.DistinctField. Missing and null values collapse to a single
// "null" key.
func (cf *CompiledFilter) distinctItems(items []WorkItem) []WorkItem {
	if cf.cfg.DistinctField == "" {
		return items
	}
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		key := distinctKey(it.Data, cf.cfg.DistinctField)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func distinctKey(doc interface{}, field string) string {
	v, ok := lookupDottedFieldRaw(doc, field)
	if !ok || v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func lookupDottedFieldRaw(doc interface{}, field string) (interface{}, bool) {
	v := lookupDottedField(doc, field)
	return v, v != nil
}
