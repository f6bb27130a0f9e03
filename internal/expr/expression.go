package expr

import (
	"encoding/json"
	"fmt"
)

// MaxDepth bounds recursion over author-supplied expression trees.
const MaxDepth = 200

type exprKind int

const (
	kindLeaf exprKind = iota
	kindAll
	kindAny
	kindNot
)

// Expression is one node of a predicate tree: a composite (all/any/not) or a
// leaf comparison.
type Expression struct {
	kind     exprKind
	children []Expression
	negated  *Expression

	op    string
	left  *Operand
	right *Operand
	value *Operand
	min   any
	max   any
}

// Operators understood by leaf expressions.
const (
	OpEq      = "=="
	OpNeq     = "!="
	OpGt      = ">"
	OpGte     = ">="
	OpLt      = "<"
	OpLte     = "<="
	OpIn      = "in"
	OpNotIn   = "not_in"
	OpBetween = "between"
	OpExists  = "exists"
)

// Parse decodes a JSON predicate tree.
func Parse(b []byte) (*Expression, error) {
	var e Expression
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", err)
	}
	return &e, nil
}

// UnmarshalJSON decodes one node. Composite keys take precedence over leaf
// keys; a node carrying "all" is a conjunction even if it also carries "op".
func (e *Expression) UnmarshalJSON(b []byte) error {
	var raw struct {
		All   []Expression    `json:"all"`
		Any   []Expression    `json:"any"`
		Not   *Expression     `json:"not"`
		Op    string          `json:"op"`
		Left  *Operand        `json:"left"`
		Right *Operand        `json:"right"`
		Value *Operand        `json:"value"`
		Min   any             `json:"min"`
		Max   any             `json:"max"`
		keys  map[string]json.RawMessage
	}
	if err := json.Unmarshal(b, &raw.keys); err != nil {
		return fmt.Errorf("expression must be an object: %w", err)
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case hasKey(raw.keys, "all"):
		e.kind = kindAll
		e.children = raw.All
	case hasKey(raw.keys, "any"):
		e.kind = kindAny
		e.children = raw.Any
	case raw.Not != nil:
		e.kind = kindNot
		e.negated = raw.Not
	default:
		e.kind = kindLeaf
		e.op = raw.Op
		e.left = raw.Left
		e.right = raw.Right
		e.value = raw.Value
		e.min = raw.Min
		e.max = raw.Max
	}
	return nil
}

func hasKey(m map[string]json.RawMessage, k string) bool {
	_, ok := m[k]
	return ok
}

// Evaluate applies the predicate to a context. It is total: nil expressions,
// unknown operators and over-deep trees all evaluate to false.
func Evaluate(e *Expression, ctx *Context) bool {
	return eval(e, ctx, 0)
}

func eval(e *Expression, ctx *Context, depth int) bool {
	if e == nil || depth > MaxDepth {
		return false
	}
	switch e.kind {
	case kindAll:
		for i := range e.children {
			if !eval(&e.children[i], ctx, depth+1) {
				return false
			}
		}
		return true
	case kindAny:
		for i := range e.children {
			if eval(&e.children[i], ctx, depth+1) {
				return true
			}
		}
		return false
	case kindNot:
		return !eval(e.negated, ctx, depth+1)
	default:
		return evalLeaf(e, ctx)
	}
}

func evalLeaf(e *Expression, ctx *Context) bool {
	switch e.op {
	case OpExists:
		// "value" is the legacy spelling of the operand.
		operand := e.left
		if operand == nil {
			operand = e.value
		}
		return present(operand.Resolve(ctx))
	case OpEq:
		return strictEq(e.left.Resolve(ctx), e.rightOperand().Resolve(ctx))
	case OpNeq:
		return !strictEq(e.left.Resolve(ctx), e.rightOperand().Resolve(ctx))
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compare(e.left.Resolve(ctx), e.rightOperand().Resolve(ctx))
		if !ok {
			return false
		}
		switch e.op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		return member(e.left.Resolve(ctx), e.rightOperand().Resolve(ctx))
	case OpNotIn:
		return !member(e.left.Resolve(ctx), e.rightOperand().Resolve(ctx))
	case OpBetween:
		v := e.left.Resolve(ctx)
		lo, okLo := compare(v, e.min)
		hi, okHi := compare(v, e.max)
		return okLo && okHi && lo >= 0 && hi <= 0
	default:
		return false
	}
}

// rightOperand returns the right-hand side, accepting "value" as the legacy
// spelling.
func (e *Expression) rightOperand() *Operand {
	if e.right != nil {
		return e.right
	}
	return e.value
}

// member reports strict-equality membership of v in seq. A non-sequence
// right-hand side is treated as the empty sequence.
func member(v, seq any) bool {
	items, ok := seq.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if strictEq(v, item) {
			return true
		}
	}
	return false
}
