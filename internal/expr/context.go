// Package expr implements the declarative predicate language used by rule
// sets and compute when-clauses: dotted-path resolution over a submission
// context plus a recursive boolean evaluator. Evaluation is total — malformed
// input yields false, never a panic or an error.
package expr

import "strings"

// Context is the scope map a predicate evaluates against. The three scopes
// mirror the intake pipeline: raw answers, derived values, and request
// metadata.
type Context struct {
	Answers  map[string]any
	Computed map[string]any
	Metadata map[string]any

	// OnComputedMiss, when set, is consulted for a computed.<key> lookup
	// whose direct hit is absent. The compute engine installs its lazy
	// resolver here so predicates can trigger on-demand evaluation.
	OnComputedMiss func(key string) (any, bool)
}

// Resolve maps a dotted variable path to a value inside the context. The
// first segment selects the scope; remaining segments walk nested
// string-keyed maps. Any missing intermediate yields (nil, false). Arrays are
// not indexed.
func (c *Context) Resolve(path string) (any, bool) {
	if c == nil || path == "" {
		return nil, false
	}
	segs := strings.Split(path, ".")
	var scope map[string]any
	switch segs[0] {
	case "answers":
		scope = c.Answers
	case "computed":
		scope = c.Computed
	case "metadata":
		scope = c.Metadata
	default:
		return nil, false
	}
	if len(segs) == 1 {
		if scope == nil {
			return nil, false
		}
		return scope, true
	}

	cur, ok := scope[segs[1]]
	if !ok && segs[0] == "computed" && c.OnComputedMiss != nil {
		cur, ok = c.OnComputedMiss(segs[1])
	}
	if !ok {
		return nil, false
	}
	for _, seg := range segs[2:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
