package agentrun

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

// Context holds the variables available to a single step's interpolation:
// item.<field> (flattened one level), item_json, item_id, step-output
// captures, and -- in the reduce phase -- map.successful, map.failed,
// map.total, map.results.
type Context struct {
	ItemID string
	Item   interface{} // the work item's JSON data

	// Captures holds named outputs captured from prior steps via
	// capture_output, available to later steps as "{{steps.<name>}}".
	Captures map[string]string

	// MapResults is populated only for reduce-phase interpolation.
	MapResults []checkpoint.AgentResult
}

var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Interpolate substitutes "{{var}}" placeholders in tmpl using the scalar
// view of ctx (flattened item fields, item_json, item_id, step captures).
// Non-scalar item fields render as compact JSON.
func (c *Context) Interpolate(tmpl string) string {
	scalars := c.ScalarEnv()
	return templateVar.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := templateVar.FindStringSubmatch(m)[1]
		if v, ok := scalars[key]; ok {
			return v
		}
		return m
	})
}

// ScalarEnv builds the string-valued view of the context: item.<field> for
// each top-level item field (non-scalar values as compact JSON), item_json,
// item_id, steps.<name> captures and the map.* counts. The full map.results
// array is left out, to prevent argv/environment overflow.
func (c *Context) ScalarEnv() map[string]string {
	env := map[string]string{"item_id": c.ItemID}

	if obj, ok := c.Item.(map[string]interface{}); ok {
		for k, v := range obj {
			if s, ok := scalarString(v); ok {
				env["item."+k] = s
			}
		}
	}

	if raw, err := json.Marshal(c.Item); err == nil {
		env["item_json"] = string(raw)
	}

	for k, v := range c.Captures {
		env["steps."+k] = v
	}

	if c.MapResults != nil {
		successful, failed := 0, 0
		for _, r := range c.MapResults {
			if r.Status == checkpoint.StatusSuccess {
				successful++
			} else {
				failed++
			}
		}
		env["map.successful"] = fmt.Sprintf("%d", successful)
		env["map.failed"] = fmt.Sprintf("%d", failed)
		env["map.total"] = fmt.Sprintf("%d", len(c.MapResults))
	}

	return env
}

// FullEnv returns the complete interpolation context including the full
// map.results array, for commands that need more than scalars (e.g.
// writing a results file) -- a separate accessor from ScalarEnv so
// environment-variable interpolation never risks argv overflow.
func (c *Context) FullEnv() map[string]interface{} {
	full := map[string]interface{}{
		"item_id":   c.ItemID,
		"item":      c.Item,
		"item_json": c.Item,
	}
	if c.MapResults != nil {
		full["map.results"] = c.MapResults
	}
	return full
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return fmt.Sprintf("%g", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	case nil:
		return "", true
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}
