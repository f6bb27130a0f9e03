package expr

import "encoding/json"

// Operand is one side of a leaf comparison. Rule authors may write it as
// {"var": "answers.age"}, {"value": 18}, or a bare literal; the three forms
// are folded into one tagged union at decode time.
type Operand struct {
	varPath  string
	value    any
	isVar    bool
	hasValue bool
}

// Var builds a variable operand. Used by tests and payload resolution.
func Var(path string) *Operand {
	return &Operand{varPath: path, isVar: true}
}

// Literal builds a literal operand.
func Literal(v any) *Operand {
	return &Operand{value: v, hasValue: true}
}

// UnmarshalJSON accepts the three operand spellings. An object carrying
// neither "var" nor "value" is kept as an object literal.
func (o *Operand) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err == nil && m != nil {
		if raw, ok := m["var"]; ok {
			var path string
			if err := json.Unmarshal(raw, &path); err != nil {
				return err
			}
			o.varPath = path
			o.isVar = true
			return nil
		}
		if raw, ok := m["value"]; ok {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			o.value = v
			o.hasValue = true
			return nil
		}
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.value = v
	o.hasValue = true
	return nil
}

// Resolve projects the operand to a value in the given context. Variable
// misses resolve to nil.
func (o *Operand) Resolve(ctx *Context) any {
	if o == nil {
		return nil
	}
	if o.isVar {
		v, _ := ctx.Resolve(o.varPath)
		return v
	}
	return o.value
}
