package compute

import (
	"encoding/json"

	"studykit/internal/expr"
	"studykit/internal/types"
)

// Definition pairs a compute key with its raw expression tree.
type Definition struct {
	Key    string
	Source json.RawMessage
}

// Resolver evaluates a set of compute definitions against one submission
// context. Resolution is lazy and memoised: a computed.<key> reference inside
// a definition triggers on-demand evaluation of that key. Re-entering a key
// already being evaluated is a cycle and fails the run.
//
// A Resolver is single-use and not safe for concurrent use; the intake
// pipeline builds one per submission.
type Resolver struct {
	ctx      *expr.Context
	defs     map[string]*Expr
	order    []string
	memo     map[string]any
	visiting map[string]bool
	err      error
}

// NewResolver parses the definitions and wires the resolver into the
// context's computed scope. The first definition per key wins; later
// duplicates are skipped. Definitions that fail to parse resolve to nil.
func NewResolver(ctx *expr.Context, defs []Definition) *Resolver {
	r := &Resolver{
		ctx:      ctx,
		defs:     make(map[string]*Expr, len(defs)),
		memo:     make(map[string]any, len(defs)),
		visiting: make(map[string]bool),
	}
	for _, d := range defs {
		if _, dup := r.defs[d.Key]; dup {
			continue
		}
		parsed, err := Parse(d.Source)
		if err != nil {
			parsed = nil
		}
		r.defs[d.Key] = parsed
		r.order = append(r.order, d.Key)
	}
	if ctx.Computed == nil {
		ctx.Computed = make(map[string]any)
	}
	ctx.OnComputedMiss = func(key string) (any, bool) {
		v, err := r.resolve(key, 0)
		if err != nil {
			if r.err == nil {
				r.err = err
			}
			return nil, false
		}
		return v, true
	}
	return r
}

// ResolveAll evaluates every definition in insertion order and returns the
// accumulated key -> value map plus the key order. A cycle anywhere fails the
// whole run.
func (r *Resolver) ResolveAll() (map[string]any, []string, error) {
	for _, key := range r.order {
		if _, err := r.resolve(key, 0); err != nil {
			return nil, nil, err
		}
		if r.err != nil {
			return nil, nil, r.err
		}
	}
	out := make(map[string]any, len(r.memo))
	for k, v := range r.memo {
		out[k] = v
	}
	return out, append([]string(nil), r.order...), nil
}

func (r *Resolver) resolve(key string, depth int) (any, error) {
	if v, done := r.memo[key]; done {
		return v, nil
	}
	if r.visiting[key] {
		return nil, &types.CycleError{Key: key}
	}
	def, known := r.defs[key]
	if !known {
		return nil, nil
	}

	r.visiting[key] = true
	v, err := r.eval(def, depth)
	delete(r.visiting, key)
	if err == nil && r.err != nil {
		err = r.err
	}
	if err != nil {
		return nil, err
	}

	r.memo[key] = v
	r.ctx.Computed[key] = v
	return v, nil
}

func (r *Resolver) eval(e *Expr, depth int) (any, error) {
	if e == nil {
		return nil, nil
	}
	if depth > expr.MaxDepth {
		return nil, &types.PayloadError{Msg: "compute expression too deep"}
	}
	switch e.kind {
	case nodeValue:
		return e.value, nil
	case nodeVar:
		v, _ := r.ctx.Resolve(e.varPath)
		if r.err != nil {
			return nil, r.err
		}
		return v, nil
	case nodeCond:
		matched := expr.Evaluate(e.when, r.ctx)
		if r.err != nil {
			return nil, r.err
		}
		if matched {
			return r.eval(e.then, depth+1)
		}
		return r.eval(e.els, depth+1)
	default:
		return r.evalCall(e, depth)
	}
}

func (r *Resolver) evalCall(e *Expr, depth int) (any, error) {
	args := make([]any, len(e.args))
	for i := range e.args {
		v, err := r.eval(&e.args[i], depth+1)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch e.fn {
	case FnNormalizeTime:
		if len(args) < 1 {
			return nil, nil
		}
		return normalizeTime(args[0]), nil
	case FnMidpoint:
		if len(args) < 2 {
			return nil, nil
		}
		return midpoint(args[0], args[1]), nil
	case FnDuration:
		if len(args) < 2 {
			return nil, nil
		}
		return durationMinutes(args[0], args[1]), nil
	case FnAddDays:
		if len(args) < 2 {
			return nil, nil
		}
		return addDays(args[0], args[1]), nil
	case OpAdd, OpSubtract, OpMultiply, OpDivide:
		return arith(e.fn, args), nil
	}
	return nil, nil
}
