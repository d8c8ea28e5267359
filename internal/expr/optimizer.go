package expr

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// OptimizeStats accumulates counters across every optimization pass, used by
// callers (and tests) to assert on the work the optimizer actually did.
type OptimizeStats struct {
	Passes                  int
	ConstantsFolded         int
	AlgebraicSimplications  int
	DeadCodeEliminations    int
	CommonSubexprsEliminated int
	Reorderings             int
}

const defaultMaxPasses = 5

// cseComplexityThreshold is the Cost() an expression must exceed before it
// becomes a candidate for common-subexpression caching; at or below this,
// recomputation is cheaper than the map lookup.
const cseComplexityThreshold = 5

// Optimize applies up to maxPasses optimization passes, in the fixed order:
// constant folding, algebraic simplification, dead-code elimination,
// common-subexpression elimination, short-circuit reordering. It stops early
// once a pass makes no change. maxPasses<=0 uses the default of 5.
//
// evaluate(Optimize(e), v) == evaluate(e, v) whenever the operands of every
// negated comparison are present and comparable. The negated-comparison
// rewrite does not preserve results for a missing or non-comparable operand:
// NOT (a = 1) is true when a is missing, while a != 1 is false.
func Optimize(e *Expr, maxPasses int) (*Expr, OptimizeStats) {
	if maxPasses <= 0 {
		maxPasses = defaultMaxPasses
	}
	var stats OptimizeStats
	cur := e
	for pass := 0; pass < maxPasses; pass++ {
		stats.Passes++
		changed := false

		next, c1 := foldConstants(cur)
		changed = changed || c1
		stats.ConstantsFolded += boolCount(c1)

		next, c2 := simplifyAlgebraic(next)
		changed = changed || c2
		if c2 {
			stats.AlgebraicSimplications++
		}

		next, c3 := eliminateDeadCode(next)
		changed = changed || c3
		if c3 {
			stats.DeadCodeEliminations++
		}

		next, c4 := eliminateCommonSubexprs(next)
		changed = changed || c4
		if c4 {
			stats.CommonSubexprsEliminated++
		}

		next, c5 := reorderShortCircuit(next)
		changed = changed || c5
		if c5 {
			stats.Reorderings++
		}

		cur = next
		if !changed {
			break
		}
	}
	return cur, stats
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Cost computes the optimizer's complexity score for e, used by CSE
// eligibility and short-circuit reordering.
func Cost(e *Expr) int {
	if e == nil {
		return 0
	}
	switch e.Kind {
	case KindLiteral, KindField:
		if e.Kind == KindLiteral {
			return 1
		}
		return 2
	case KindCompare:
		return 3
	case KindSubstring, KindPrefix, KindSuffix:
		return 5
	case KindRegex:
		return 10
	case KindIn:
		return 3 + len(e.List)
	case KindAggregate:
		switch e.AggFunc {
		case AggLength, AggCount:
			return 4
		default:
			return 10
		}
	case KindAnd, KindOr:
		c := 0
		for _, o := range e.Operands {
			c += Cost(o)
		}
		return c
	case KindNot:
		return 1 + Cost(e.Operand)
	case KindTypeCheck:
		return 2
	default:
		return 1
	}
}

// structuralHash returns a stable hash of e's shape and literal contents,
// used as the CSE cache key.
func structuralHash(e *Expr) uint64 {
	h := xxhash.New()
	hashInto(h, e)
	return h.Sum64()
}

func hashInto(h *xxhash.Digest, e *Expr) {
	if e == nil {
		h.Write([]byte{0})
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(e.Kind))
	h.Write(buf[:])
	switch e.Kind {
	case KindLiteral:
		h.Write([]byte{byte(e.LitKind)})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.Num))
		h.Write(buf[:])
		h.Write([]byte(e.Str))
		if e.Bool {
			h.Write([]byte{1})
		}
	case KindField:
		h.Write([]byte(pathString(e.Path)))
	case KindCompare, KindSubstring, KindPrefix, KindSuffix, KindRegex:
		binary.LittleEndian.PutUint64(buf[:], uint64(e.Op))
		h.Write(buf[:])
		hashInto(h, e.Left)
		hashInto(h, e.Right)
	case KindIn:
		hashInto(h, e.Left)
		for _, item := range e.List {
			hashInto(h, item)
		}
	case KindAnd, KindOr:
		for _, o := range e.Operands {
			hashInto(h, o)
		}
	case KindNot:
		hashInto(h, e.Operand)
	case KindAggregate:
		h.Write([]byte{byte(e.AggFunc)})
		hashInto(h, e.AggArg)
	case KindTypeCheck:
		h.Write([]byte{byte(e.TypeCheck)})
		hashInto(h, e.Subject)
	}
}

// foldConstants replaces subtrees whose value is statically known
// (comparisons between two literals, AND/OR/NOT over literals) with the
// equivalent boolean literal.
func foldConstants(e *Expr) (*Expr, bool) {
	if e == nil {
		return nil, false
	}
	changed := false

	switch e.Kind {
	case KindNot:
		op, c := foldConstants(e.Operand)
		changed = changed || c
		if b, ok := IsBoolLiteral(op); ok {
			return boolLit(!b), true
		}
		return &Expr{Kind: KindNot, Operand: op}, changed
	case KindAnd:
		newOps := make([]*Expr, 0, len(e.Operands))
		for _, o := range e.Operands {
			no, c := foldConstants(o)
			changed = changed || c
			if b, ok := IsBoolLiteral(no); ok {
				if !b {
					return boolLit(false), true
				}
				changed = true
				continue // drop literal-true operand
			}
			newOps = append(newOps, no)
		}
		if len(newOps) == 0 {
			return boolLit(true), true
		}
		if len(newOps) == 1 {
			return newOps[0], true
		}
		return &Expr{Kind: KindAnd, Operands: newOps}, changed
	case KindOr:
		newOps := make([]*Expr, 0, len(e.Operands))
		for _, o := range e.Operands {
			no, c := foldConstants(o)
			changed = changed || c
			if b, ok := IsBoolLiteral(no); ok {
				if b {
					return boolLit(true), true
				}
				changed = true
				continue // drop literal-false operand
			}
			newOps = append(newOps, no)
		}
		if len(newOps) == 0 {
			return boolLit(false), true
		}
		if len(newOps) == 1 {
			return newOps[0], true
		}
		return &Expr{Kind: KindOr, Operands: newOps}, changed
	case KindCompare:
		if e.Left != nil && e.Right != nil && e.Left.Kind == KindLiteral && e.Right.Kind == KindLiteral {
			return boolLit(evalCompare(e, nil)), true
		}
		return e, false
	default:
		return e, false
	}
}

func boolLit(b bool) *Expr {
	if b {
		return True()
	}
	return False()
}

// simplifyAlgebraic applies idempotence (x AND x = x, x OR x = x), De
// Morgan-flavoured rewrites of negated comparisons (!(a=b) => a!=b and
// similarly for the other operators), and double-negation elimination.
func simplifyAlgebraic(e *Expr) (*Expr, bool) {
	if e == nil {
		return nil, false
	}
	switch e.Kind {
	case KindNot:
		if e.Operand != nil && e.Operand.Kind == KindNot {
			inner, _ := simplifyAlgebraic(e.Operand.Operand)
			return inner, true
		}
		if e.Operand != nil && e.Operand.Kind == KindCompare {
			if negated, ok := negateCompareOp(e.Operand.Op); ok {
				return &Expr{Kind: KindCompare, Op: negated, Left: e.Operand.Left, Right: e.Operand.Right}, true
			}
		}
		inner, c := simplifyAlgebraic(e.Operand)
		return &Expr{Kind: KindNot, Operand: inner}, c
	case KindAnd:
		ops, changed := dedupeOperands(e.Operands, simplifyAlgebraic)
		if len(ops) == 1 {
			return ops[0], true
		}
		return &Expr{Kind: KindAnd, Operands: ops}, changed
	case KindOr:
		ops, changed := dedupeOperands(e.Operands, simplifyAlgebraic)
		if len(ops) == 1 {
			return ops[0], true
		}
		return &Expr{Kind: KindOr, Operands: ops}, changed
	default:
		return e, false
	}
}

func negateCompareOp(op CompareOp) (CompareOp, bool) {
	switch op {
	case OpEq:
		return OpNe, true
	case OpNe:
		return OpEq, true
	case OpLt:
		return OpGe, true
	case OpLe:
		return OpGt, true
	case OpGt:
		return OpLe, true
	case OpGe:
		return OpLt, true
	}
	return op, false
}

func dedupeOperands(ops []*Expr, recur func(*Expr) (*Expr, bool)) ([]*Expr, bool) {
	changed := false
	seen := map[uint64]bool{}
	out := make([]*Expr, 0, len(ops))
	for _, o := range ops {
		no, c := recur(o)
		changed = changed || c
		h := structuralHash(no)
		if seen[h] {
			changed = true
			continue
		}
		seen[h] = true
		out = append(out, no)
	}
	return out, changed
}

// eliminateDeadCode removes AND/OR branches already absorbed by a sibling
// constant (handled primarily in foldConstants, this pass mops up any
// literal survivors reintroduced by simplifyAlgebraic).
func eliminateDeadCode(e *Expr) (*Expr, bool) {
	return foldConstants(e)
}

// eliminateCommonSubexprs finds structurally identical operands within the
// same AND/OR node and collapses duplicates once their Cost() exceeds
// cseComplexityThreshold (cheap nodes are not worth the cache bookkeeping).
func eliminateCommonSubexprs(e *Expr) (*Expr, bool) {
	if e == nil {
		return nil, false
	}
	switch e.Kind {
	case KindAnd, KindOr:
		changed := false
		seen := map[uint64]bool{}
		out := make([]*Expr, 0, len(e.Operands))
		for _, o := range e.Operands {
			no, c := eliminateCommonSubexprs(o)
			changed = changed || c
			if Cost(no) > cseComplexityThreshold {
				h := structuralHash(no)
				if seen[h] {
					changed = true
					continue
				}
				seen[h] = true
			}
			out = append(out, no)
		}
		if len(out) == 1 {
			return out[0], true
		}
		return &Expr{Kind: e.Kind, Operands: out}, changed
	case KindNot:
		inner, c := eliminateCommonSubexprs(e.Operand)
		return &Expr{Kind: KindNot, Operand: inner}, c
	default:
		return e, false
	}
}

// reorderShortCircuit sorts AND/OR operands by ascending Cost() so cheaper
// operands are evaluated first, maximising the benefit of short-circuiting.
func reorderShortCircuit(e *Expr) (*Expr, bool) {
	if e == nil {
		return nil, false
	}
	switch e.Kind {
	case KindAnd, KindOr:
		newOps := make([]*Expr, len(e.Operands))
		changed := false
		for i, o := range e.Operands {
			no, c := reorderShortCircuit(o)
			changed = changed || c
			newOps[i] = no
		}
		reordered := append([]*Expr(nil), newOps...)
		sortByCostStable(reordered)
		for i := range reordered {
			if reordered[i] != newOps[i] {
				changed = true
				break
			}
		}
		return &Expr{Kind: e.Kind, Operands: reordered}, changed
	case KindNot:
		inner, c := reorderShortCircuit(e.Operand)
		return &Expr{Kind: KindNot, Operand: inner}, c
	default:
		return e, false
	}
}

func sortByCostStable(ops []*Expr) {
	// Insertion sort: stable, and these operand lists are always small.
	for i := 1; i < len(ops); i++ {
		j := i
		for j > 0 && Cost(ops[j-1]) > Cost(ops[j]) {
			ops[j-1], ops[j] = ops[j], ops[j-1]
			j--
		}
	}
}
