// Package compute implements the declarative compute language: named
// definitions over answers, metadata and other computed values, resolved
// lazily with memoisation and cycle detection. Leaf helpers are total and
// yield nil for unparseable input; only dependency cycles and over-deep trees
// fail a compute run.
package compute

import (
	"encoding/json"
	"fmt"

	"studykit/internal/expr"
)

type nodeKind int

const (
	nodeValue nodeKind = iota
	nodeVar
	nodeCall
	nodeCond
)

// Expr is one node of a compute expression tree.
type Expr struct {
	kind    nodeKind
	varPath string
	value   any
	fn      string
	args    []Expr

	when *expr.Expression
	then *Expr
	els  *Expr
}

// Named functions and arithmetic operators.
const (
	FnMidpoint      = "midpoint"
	FnDuration      = "duration"
	FnAddDays       = "add_days"
	FnNormalizeTime = "normalize_time"

	OpAdd      = "add"
	OpSubtract = "subtract"
	OpMultiply = "multiply"
	OpDivide   = "divide"
)

// Parse decodes a JSON compute expression tree.
func Parse(b []byte) (*Expr, error) {
	var e Expr
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("failed to parse compute expression: %w", err)
	}
	return &e, nil
}

// UnmarshalJSON decodes one node. Objects are classified by their tag key
// (var / value / func / op / when); objects without a tag and bare literals
// are literal values.
func (e *Expr) UnmarshalJSON(b []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil || keys == nil {
		// Bare literal: number, string, bool, null or array.
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		e.kind = nodeValue
		e.value = v
		return nil
	}

	switch {
	case hasKey(keys, "var"):
		var path string
		if err := json.Unmarshal(keys["var"], &path); err != nil {
			return err
		}
		e.kind = nodeVar
		e.varPath = path
	case hasKey(keys, "value"):
		var v any
		if err := json.Unmarshal(keys["value"], &v); err != nil {
			return err
		}
		e.kind = nodeValue
		e.value = v
	case hasKey(keys, "func"), hasKey(keys, "op"):
		var raw struct {
			Func string `json:"func"`
			Op   string `json:"op"`
			Args []Expr `json:"args"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		e.kind = nodeCall
		e.fn = raw.Func
		if e.fn == "" {
			e.fn = raw.Op
		}
		e.args = raw.Args
	case hasKey(keys, "when"):
		var raw struct {
			When *expr.Expression `json:"when"`
			Then *Expr            `json:"then"`
			Else *Expr            `json:"else"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		e.kind = nodeCond
		e.when = raw.When
		e.then = raw.Then
		e.els = raw.Else
	default:
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		e.kind = nodeValue
		e.value = v
	}
	return nil
}

func hasKey(m map[string]json.RawMessage, k string) bool {
	_, ok := m[k]
	return ok
}
