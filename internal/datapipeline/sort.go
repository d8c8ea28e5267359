package datapipeline

import (
	"encoding/json"
	"sort"

	"github.com/corvusmr/prodigy/internal/expr"
)

// sortItems performs a stable multi-key sort: type-aware comparison
// (numbers numerically, strings by Unicode code point, booleans
// false<true, nulls per NullPosition), with a stable
// fallback so fields that are cross-type (present in some items, absent in
// others) still group deterministically -- items missing the field are
// ordered as nulls (after the others by default), and ties fall back to the original
// (post-filter) order.
func (cf *CompiledFilter) sortItems(items []WorkItem) []WorkItem {
	if len(cf.cfg.SortKeys) == 0 {
		return items
	}
	out := append([]WorkItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, key := range cf.cfg.SortKeys {
			cmp := compareByKey(out[i].Data, out[j].Data, key)
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false // equal on every key: stable sort preserves input order
	})
	return out
}

// compareByKey returns <0, 0, >0 comparing a and b on a single sort key,
// honouring direction and null position.
func compareByKey(a, b interface{}, key SortKey) int {
	av, aok := expr.LookupPath(a, key.Field)
	bv, bok := expr.LookupPath(b, key.Field)

	aNull := !aok || av == nil
	bNull := !bok || bv == nil

	if aNull && bNull {
		return 0
	}
	if aNull {
		return nullOrdering(key.Nulls, true)
	}
	if bNull {
		return nullOrdering(key.Nulls, false)
	}

	cmp := compareTyped(av, bv)
	if key.Direction == Descending {
		cmp = -cmp
	}
	return cmp
}

// nullOrdering returns the comparison result when exactly one side is null.
// aIsNull tells us which side the null sits on; the direction is independent
// of ASC/DESC (NULLS LAST/FIRST is applied after direction is applied).
func nullOrdering(pos NullPosition, aIsNull bool) int {
	if pos == NullsFirst {
		if aIsNull {
			return -1
		}
		return 1
	}
	// NullsLast (default)
	if aIsNull {
		return 1
	}
	return -1
}

// compareTyped compares two non-null JSON values. Numbers compare
// numerically, strings lexicographically by Unicode code point, booleans
// false<true. Cross-type values fall back to a stable type-rank ordering so
// output is still deterministic (numbers < strings < bools < arrays <
// objects), ensuring records carrying a given field sort together.
func compareTyped(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.(bool)
		ai, bi := boolRank(av), boolRank(bv)
		return ai - bi
	default:
		// Arrays/objects: compare their canonical JSON encoding for a total,
		// deterministic (if not meaningful) order.
		ae, _ := json.Marshal(a)
		be, _ := json.Marshal(b)
		switch {
		case string(ae) < string(be):
			return -1
		case string(ae) > string(be):
			return 1
		default:
			return 0
		}
	}
}

func typeRank(v interface{}) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	case []interface{}:
		return 3
	default:
		return 4
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
