// Package expr implements the boolean filter/expression layer used by the
// data pipeline and, standalone, as a general predicate evaluator over JSON
// values. It provides a recursive-descent parser, a panic-free evaluator,
// and a fixed-order multi-pass optimizer.
package expr

import "fmt"

// Kind identifies the concrete shape of an Expr node.
type Kind int

const (
	KindLiteral Kind = iota
	KindField
	KindCompare
	KindSubstring
	KindPrefix
	KindSuffix
	KindRegex
	KindIn
	KindAnd
	KindOr
	KindNot
	KindAggregate
	KindTypeCheck
)

// CompareOp enumerates the comparison operators.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (o CompareOp) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

// AggregateFunc enumerates the supported aggregate functions.
type AggregateFunc int

const (
	AggLength AggregateFunc = iota
	AggCount
	AggSum
	AggMin
	AggMax
	AggAvg
)

// TypeCheckKind enumerates the supported `is_*` type predicates.
type TypeCheckKind int

const (
	IsNumber TypeCheckKind = iota
	IsString
	IsBool
	IsArray
	IsObject
	IsNull
	IsNotNull
)

// LiteralKind distinguishes the underlying Go type a Literal node carries.
type LiteralKind int

const (
	LitNumber LiteralKind = iota
	LitString
	LitBool
	LitNull
)

// Expr is the sum type for every node in the expression tree. Exactly one
// of the kind-specific fields is populated, selected by Kind.
type Expr struct {
	Kind Kind

	// KindLiteral
	LitKind LiteralKind
	Num     float64
	Str     string
	Bool    bool

	// KindField: dot-separated path with optional bracket indices, e.g.
	// "items[0].name". Stored pre-split for fast repeated evaluation.
	Path []PathSegment

	// KindCompare / KindSubstring / KindPrefix / KindSuffix / KindRegex / KindIn
	Op    CompareOp
	Left  *Expr // field or literal operand (comparisons)
	Right *Expr

	// KindIn: the candidate list.
	List []*Expr

	// KindAnd / KindOr: operands, 2+ after parsing (optimizer may extend).
	Operands []*Expr

	// KindNot
	Operand *Expr

	// KindAggregate
	AggFunc AggregateFunc
	AggArg  *Expr // field path the aggregate is computed over

	// KindTypeCheck
	TypeCheck TypeCheckKind
	Subject   *Expr
}

// PathSegment is either a field name or an array index.
type PathSegment struct {
	Field string
	Index int
	IsIdx bool
}

// String renders a compact, parser-compatible representation of the
// expression, primarily for debugging and error messages.
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindLiteral:
		switch e.LitKind {
		case LitNumber:
			return fmt.Sprintf("%g", e.Num)
		case LitString:
			return fmt.Sprintf("%q", e.Str)
		case LitBool:
			return fmt.Sprintf("%t", e.Bool)
		default:
			return "null"
		}
	case KindField:
		return pathString(e.Path)
	case KindCompare:
		return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
	case KindSubstring:
		return fmt.Sprintf("contains(%s, %s)", e.Left, e.Right)
	case KindPrefix:
		return fmt.Sprintf("starts_with(%s, %s)", e.Left, e.Right)
	case KindSuffix:
		return fmt.Sprintf("ends_with(%s, %s)", e.Left, e.Right)
	case KindRegex:
		return fmt.Sprintf("matches(%s, %s)", e.Left, e.Right)
	case KindIn:
		return fmt.Sprintf("%s IN [...]", e.Left)
	case KindAnd:
		return joinOperands(e.Operands, "AND")
	case KindOr:
		return joinOperands(e.Operands, "OR")
	case KindNot:
		return fmt.Sprintf("!%s", e.Operand)
	case KindAggregate:
		return fmt.Sprintf("%s(%s)", aggName(e.AggFunc), e.AggArg)
	case KindTypeCheck:
		return fmt.Sprintf("%s(%s)", typeCheckName(e.TypeCheck), e.Subject)
	default:
		return "?"
	}
}

func pathString(segs []PathSegment) string {
	s := ""
	for i, seg := range segs {
		if seg.IsIdx {
			s += fmt.Sprintf("[%d]", seg.Index)
			continue
		}
		if i > 0 {
			s += "."
		}
		s += seg.Field
	}
	return s
}

func joinOperands(ops []*Expr, sep string) string {
	s := ""
	for i, o := range ops {
		if i > 0 {
			s += " " + sep + " "
		}
		s += o.String()
	}
	return "(" + s + ")"
}

func aggName(f AggregateFunc) string {
	switch f {
	case AggLength:
		return "length"
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return "?"
	}
}

func typeCheckName(k TypeCheckKind) string {
	switch k {
	case IsNumber:
		return "is_number"
	case IsString:
		return "is_string"
	case IsBool:
		return "is_bool"
	case IsArray:
		return "is_array"
	case IsObject:
		return "is_object"
	case IsNull:
		return "is_null"
	default:
		return "is_not_null"
	}
}

// True and False are canonical boolean literal expressions, used heavily by
// the optimizer's constant-folding pass.
func True() *Expr  { return &Expr{Kind: KindLiteral, LitKind: LitBool, Bool: true} }
func False() *Expr { return &Expr{Kind: KindLiteral, LitKind: LitBool, Bool: false} }

// IsBoolLiteral reports whether e is a literal true/false, returning its value.
func IsBoolLiteral(e *Expr) (value bool, ok bool) {
	if e == nil || e.Kind != KindLiteral || e.LitKind != LitBool {
		return false, false
	}
	return e.Bool, true
}
