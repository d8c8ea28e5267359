package expr

import (
	"regexp"
	"sort"
	"strings"
)

// value wraps the outcome of resolving a sub-expression against a JSON
// document. present=false models "no value" (missing path), distinct from an
// explicit JSON null.
type value struct {
	present bool
	isNull  bool
	num     float64
	isNum   bool
	str     string
	isStr   bool
	boolean bool
	isBool  bool
	raw     interface{} // array/object/any, used by aggregates and IN
}

func missing() value { return value{} }

func fromJSON(v interface{}) value {
	if v == nil {
		return value{present: true, isNull: true, raw: nil}
	}
	switch t := v.(type) {
	case float64:
		return value{present: true, isNum: true, num: t, raw: v}
	case int:
		return value{present: true, isNum: true, num: float64(t), raw: v}
	case string:
		return value{present: true, isStr: true, str: t, raw: v}
	case bool:
		return value{present: true, isBool: true, boolean: t, raw: v}
	default:
		return value{present: true, raw: v}
	}
}

// Evaluate evaluates expr against a JSON document (typically the result of
// json.Unmarshal into interface{}). Evaluation never panics: unresolvable
// paths evaluate as "missing" and propagate semantically, never as errors.
func Evaluate(e *Expr, doc interface{}) bool {
	if e == nil {
		return true
	}
	return evalBool(e, doc)
}

func evalBool(e *Expr, doc interface{}) bool {
	switch e.Kind {
	case KindLiteral:
		return e.LitKind == LitBool && e.Bool
	case KindAnd:
		for _, o := range e.Operands {
			if !evalBool(o, doc) {
				return false
			}
		}
		return true
	case KindOr:
		for _, o := range e.Operands {
			if evalBool(o, doc) {
				return true
			}
		}
		return false
	case KindNot:
		return !evalBool(e.Operand, doc)
	case KindCompare:
		return evalCompare(e, doc)
	case KindSubstring:
		l, r := resolve(e.Left, doc), resolve(e.Right, doc)
		return l.isStr && r.isStr && strings.Contains(l.str, r.str)
	case KindPrefix:
		l, r := resolve(e.Left, doc), resolve(e.Right, doc)
		return l.isStr && r.isStr && strings.HasPrefix(l.str, r.str)
	case KindSuffix:
		l, r := resolve(e.Left, doc), resolve(e.Right, doc)
		return l.isStr && r.isStr && strings.HasSuffix(l.str, r.str)
	case KindRegex:
		l, r := resolve(e.Left, doc), resolve(e.Right, doc)
		if !l.isStr || !r.isStr {
			return false
		}
		re, err := regexp.Compile(r.str)
		if err != nil {
			return false
		}
		return re.MatchString(l.str)
	case KindIn:
		l := resolve(e.Left, doc)
		for _, cand := range e.List {
			c := resolve(cand, doc)
			if valuesEqual(l, c) {
				return true
			}
		}
		return false
	case KindTypeCheck:
		v := resolve(e.Subject, doc)
		switch e.TypeCheck {
		case IsNumber:
			return v.present && v.isNum
		case IsString:
			return v.present && v.isStr
		case IsBool:
			return v.present && v.isBool
		case IsArray:
			if !v.present {
				return false
			}
			_, ok := v.raw.([]interface{})
			return ok
		case IsObject:
			if !v.present {
				return false
			}
			_, ok := v.raw.(map[string]interface{})
			return ok
		case IsNull:
			return !v.present || v.isNull
		case IsNotNull:
			return v.present && !v.isNull
		}
		return false
	default:
		return false
	}
}

func evalCompare(e *Expr, doc interface{}) bool {
	l, r := resolve(e.Left, doc), resolve(e.Right, doc)

	if e.Op == OpEq && isNullLiteral(e.Right) {
		return !l.present || l.isNull
	}
	if e.Op == OpNe && isNullLiteral(e.Right) {
		return l.present && !l.isNull
	}
	if e.Op == OpEq && isNullLiteral(e.Left) {
		return !r.present || r.isNull
	}
	if e.Op == OpNe && isNullLiteral(e.Left) {
		return r.present && !r.isNull
	}

	if !l.present || !r.present {
		return false
	}

	if l.isNum || r.isNum {
		ln, lok := asNumber(l)
		rn, rok := asNumber(r)
		if !lok || !rok {
			return false
		}
		return compareNum(e.Op, ln, rn)
	}
	if l.isStr && r.isStr {
		return compareStr(e.Op, l.str, r.str)
	}
	if l.isBool && r.isBool {
		return compareBool(e.Op, l.boolean, r.boolean)
	}
	return false
}

func isNullLiteral(e *Expr) bool {
	return e != nil && e.Kind == KindLiteral && e.LitKind == LitNull
}

func asNumber(v value) (float64, bool) {
	if v.isNum {
		return v.num, true
	}
	return 0, false
}

func compareNum(op CompareOp, a, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

func compareStr(op CompareOp, a, b string) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

func compareBool(op CompareOp, a, b bool) bool {
	ai, bi := 0, 0
	if a {
		ai = 1
	}
	if b {
		bi = 1
	}
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return ai < bi
	case OpLe:
		return ai <= bi
	case OpGt:
		return ai > bi
	case OpGe:
		return ai >= bi
	}
	return false
}

func valuesEqual(a, b value) bool {
	if !a.present || !b.present {
		return a.present == b.present && a.isNull == b.isNull
	}
	if a.isNum && b.isNum {
		return a.num == b.num
	}
	if a.isStr && b.isStr {
		return a.str == b.str
	}
	if a.isBool && b.isBool {
		return a.boolean == b.boolean
	}
	return false
}

// resolve evaluates a field/literal/aggregate operand against doc, producing
// a value. Field paths support nested descent and bracket array indices.
func resolve(e *Expr, doc interface{}) value {
	if e == nil {
		return missing()
	}
	switch e.Kind {
	case KindLiteral:
		switch e.LitKind {
		case LitNumber:
			return value{present: true, isNum: true, num: e.Num, raw: e.Num}
		case LitString:
			return value{present: true, isStr: true, str: e.Str, raw: e.Str}
		case LitBool:
			return value{present: true, isBool: true, boolean: e.Bool, raw: e.Bool}
		default:
			return value{present: true, isNull: true}
		}
	case KindField:
		return lookupPath(doc, e.Path)
	case KindAggregate:
		return resolveAggregate(e, doc)
	default:
		// Boolean sub-expressions used in numeric/string context evaluate
		// to their truth value as a pseudo-bool.
		return value{present: true, isBool: true, boolean: evalBool(e, doc)}
	}
}

// LookupPath resolves a dot/bracket field path (as produced by parsing a
// bare field reference) against doc and returns the raw JSON value found,
// or (nil, false) if the path does not resolve. Exported for callers (such
// as the data pipeline's field-mapping step) that need path resolution
// without building a full predicate.
func LookupPath(doc interface{}, path string) (interface{}, bool) {
	segs := parsePath(path)
	v := lookupPath(doc, segs)
	if !v.present {
		return nil, false
	}
	return v.raw, true
}

func lookupPath(doc interface{}, path []PathSegment) value {
	cur := doc
	for _, seg := range path {
		if seg.IsIdx {
			arr, ok := cur.([]interface{})
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return missing()
			}
			cur = arr[seg.Index]
			continue
		}
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return missing()
		}
		v, found := obj[seg.Field]
		if !found {
			return missing()
		}
		cur = v
	}
	return fromJSON(cur)
}

func resolveAggregate(e *Expr, doc interface{}) value {
	arg := resolve(e.AggArg, doc)

	switch e.AggFunc {
	case AggLength:
		switch t := arg.raw.(type) {
		case string:
			return value{present: true, isNum: true, num: float64(len([]rune(t)))}
		case []interface{}:
			return value{present: true, isNum: true, num: float64(len(t))}
		case map[string]interface{}:
			return value{present: true, isNum: true, num: float64(len(t))}
		default:
			return missing()
		}
	case AggCount:
		arr, ok := arg.raw.([]interface{})
		if !ok {
			return missing()
		}
		return value{present: true, isNum: true, num: float64(len(arr))}
	case AggSum, AggMin, AggMax, AggAvg:
		arr, ok := arg.raw.([]interface{})
		if !ok {
			return missing()
		}
		nums := make([]float64, 0, len(arr))
		for _, item := range arr {
			if f, ok := item.(float64); ok {
				nums = append(nums, f)
			}
		}
		if len(nums) == 0 {
			return missing()
		}
		switch e.AggFunc {
		case AggSum:
			var s float64
			for _, n := range nums {
				s += n
			}
			return value{present: true, isNum: true, num: s}
		case AggAvg:
			var s float64
			for _, n := range nums {
				s += n
			}
			return value{present: true, isNum: true, num: s / float64(len(nums))}
		case AggMin:
			sort.Float64s(nums)
			return value{present: true, isNum: true, num: nums[0]}
		case AggMax:
			sort.Float64s(nums)
			return value{present: true, isNum: true, num: nums[len(nums)-1]}
		}
	}
	return missing()
}
