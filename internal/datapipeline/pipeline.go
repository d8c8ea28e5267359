// Package datapipeline materializes an ordered sequence of WorkItems from an
// external JSON document by extracting, filtering, sorting, deduplicating,
// and windowing it. The pipeline is deterministic: the same input and
// configuration always produce a bit-identical output.
package datapipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/corvusmr/prodigy/internal/expr"
)

// SortDirection controls ascending or descending ordering for a sort key.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// NullPosition controls where null/missing values land in sorted output.
// The default is NullsLast regardless of direction.
type NullPosition int

const (
	NullsLast NullPosition = iota
	NullsFirst
)

// SortKey describes one key in a stable multi-key sort.
type SortKey struct {
	Field     string
	Direction SortDirection
	Nulls     NullPosition
}

// FieldMap copies a value from SourcePath to TargetField on each item after
// windowing, a shallow object mutation applied last in the pipeline.
type FieldMap struct {
	TargetField string
	SourcePath  string
}

// Config holds the full configuration for one pipeline run.
type Config struct {
	// JSONPath, if non-empty, is a gojq filter expression applied to the
	// root document before array-or-singleton extraction (e.g. "$.items[*]"
	// style paths are translated to ".items[]" gojq syntax by Compile).
	JSONPath string

	// Filter is the string form of a boolean expression (expr.Parse syntax)
	// evaluated against each extracted item; items for which it is false are
	// dropped. Empty means "keep everything".
	Filter string

	SortKeys []SortKey

	// DistinctField, if non-empty, keeps only the first occurrence of each
	// JSON-stringified value of this field (missing/null collapse to "null").
	DistinctField string

	Offset int
	Limit  *int // nil means "no limit"

	FieldMaps []FieldMap
}

// WorkItem is an opaque JSON value plus its generated identifier.
type WorkItem struct {
	ID   string
	Data interface{}
}

// CompiledFilter is a pre-parsed, pre-validated pipeline ready for repeated
// execution (Compile is where configuration errors, e.g. an unparseable
// filter expression, surface -- dry-run mode calls Compile and then Run,
// without dispatching agents).
type CompiledFilter struct {
	cfg        Config
	filterExpr *expr.Expr
	jqQuery    *gojq.Query
}

// Compile validates cfg and pre-parses its filter expression and JSON path,
// returning a CompiledFilter that can be run repeatedly. This is also what
// the coordinator's dry-run mode invokes to validate a workflow without
// spawning agents.
func Compile(cfg Config) (*CompiledFilter, error) {
	cf := &CompiledFilter{cfg: cfg}

	if cfg.Filter != "" {
		e, err := expr.Parse(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("datapipeline: compiling filter: %w", err)
		}
		cf.filterExpr = e
	}

	if cfg.JSONPath != "" {
		path := cfg.JSONPath
		if strings.HasPrefix(path, "$") {
			path = strings.ReplaceAll(strings.TrimPrefix(path, "$"), "[*]", "[]")
			if !strings.HasPrefix(path, ".") {
				path = "." + path
			}
		}
		q, err := gojq.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("datapipeline: compiling json path %q: %w", cfg.JSONPath, err)
		}
		cf.jqQuery = q
	}

	return cf, nil
}

// Run executes the full pipeline against raw JSON input and returns the
// ordered work-item sequence: extract, filter, sort, distinct, offset,
// limit, field-map.
func (cf *CompiledFilter) Run(rawJSON []byte) ([]WorkItem, error) {
	var doc interface{}
	if err := json.Unmarshal(rawJSON, &doc); err != nil {
		return nil, fmt.Errorf("datapipeline: parsing input: %w", err)
	}

	extracted, err := cf.extract(doc)
	if err != nil {
		return nil, err
	}

	items := assignIDs(extracted)
	items = cf.filterItems(items)
	items = cf.sortItems(items)
	items = cf.distinctItems(items)
	items = cf.windowItems(items)
	cf.applyFieldMaps(items)

	return items, nil
}

// extract pulls items out of the decoded document: a configured JSON path,
// else array-elements-of-root, else singleton-wrap.
func (cf *CompiledFilter) extract(doc interface{}) ([]interface{}, error) {
	if cf.jqQuery != nil {
		iter := cf.jqQuery.Run(doc)
		var out []interface{}
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return nil, fmt.Errorf("datapipeline: evaluating json path: %w", err)
			}
			out = append(out, v)
		}
		return out, nil
	}

	if arr, ok := doc.([]interface{}); ok {
		return arr, nil
	}
	return []interface{}{doc}, nil
}

// assignIDs generates the item_<index> identifier in input order.
func assignIDs(values []interface{}) []WorkItem {
	items := make([]WorkItem, len(values))
	for i, v := range values {
		items[i] = WorkItem{ID: fmt.Sprintf("item_%d", i), Data: v}
	}
	return items
}

func (cf *CompiledFilter) filterItems(items []WorkItem) []WorkItem {
	if cf.filterExpr == nil {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if expr.Evaluate(cf.filterExpr, it.Data) {
			out = append(out, it)
		}
	}
	return out
}

// windowItems applies offset then limit. Offset >= len(items) yields an
// empty slice; limit == 0 yields an empty slice.
func (cf *CompiledFilter) windowItems(items []WorkItem) []WorkItem {
	if cf.cfg.Offset > 0 {
		if cf.cfg.Offset >= len(items) {
			return []WorkItem{}
		}
		items = items[cf.cfg.Offset:]
	}
	if cf.cfg.Limit != nil {
		limit := *cf.cfg.Limit
		if limit <= 0 {
			return []WorkItem{}
		}
		if limit < len(items) {
			items = items[:limit]
		}
	}
	return items
}

func (cf *CompiledFilter) applyFieldMaps(items []WorkItem) {
	if len(cf.cfg.FieldMaps) == 0 {
		return
	}
	for i := range items {
		obj, ok := items[i].Data.(map[string]interface{})
		if !ok {
			continue
		}
		for _, fm := range cf.cfg.FieldMaps {
			obj[fm.TargetField] = lookupDottedField(items[i].Data, fm.SourcePath)
		}
	}
}

func lookupDottedField(doc interface{}, path string) interface{} {
	v, _ := expr.LookupPath(doc, path)
	return v
}
