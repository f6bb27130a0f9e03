package intake

import (
	"encoding/json"
	"fmt"
	"strconv"

	"studykit/internal/expr"
	"studykit/internal/types"
)

// resolvedRule is a rule set's stored expression split into predicate and
// action payload according to its rule type.
type resolvedRule struct {
	predicate  *expr.Expression
	assignment *assignment
	plan       any
}

type assignment struct {
	key   string
	value string
}

// resolveRulePayload interprets the opaque expression blob per rule type.
//
// eligibility:       predicate = payload.expression ?? payload.criteria ?? payload
// group_assignment:  predicate = payload.when ?? payload.expression ?? payload.criteria ?? payload
//                    assignment = payload.assignment {key,value} or
//                                 {payload.group_key, payload.group_value}
// scheduling:        predicate as group_assignment
//                    plan = payload.plan ?? payload.schedule ?? payload
//
// An unparseable predicate evaluates to false; the rule is still recorded.
func resolveRulePayload(rule types.RuleSet) resolvedRule {
	var out resolvedRule

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rule.Expression, &payload); err != nil {
		payload = nil
	}

	predRaw := rule.Expression
	switch rule.RuleType {
	case types.RuleEligibility:
		predRaw = firstRaw(payload, predRaw, "expression", "criteria")
	default:
		predRaw = firstRaw(payload, predRaw, "when", "expression", "criteria")
	}
	if pred, err := expr.Parse(predRaw); err == nil {
		out.predicate = pred
	}

	switch rule.RuleType {
	case types.RuleGroupAssignment:
		out.assignment = resolveAssignment(payload)
	case types.RuleScheduling:
		planRaw := firstRaw(payload, rule.Expression, "plan", "schedule")
		var plan any
		if err := json.Unmarshal(planRaw, &plan); err == nil {
			out.plan = plan
		}
	}
	return out
}

// firstRaw returns the first present key's raw value, else the fallback.
func firstRaw(payload map[string]json.RawMessage, fallback json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if raw, ok := payload[k]; ok {
			return raw
		}
	}
	return fallback
}

// resolveAssignment extracts the group tag a matched assignment rule places
// on the participant. Values are coerced to strings for compatibility with
// downstream consumers.
func resolveAssignment(payload map[string]json.RawMessage) *assignment {
	if raw, ok := payload["assignment"]; ok {
		var a struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(raw, &a); err == nil && a.Key != "" {
			return &assignment{key: a.Key, value: coerceString(a.Value)}
		}
	}
	keyRaw, hasKey := payload["group_key"]
	valRaw, hasVal := payload["group_value"]
	if !hasKey || !hasVal {
		return nil
	}
	var key string
	if err := json.Unmarshal(keyRaw, &key); err != nil || key == "" {
		return nil
	}
	var val any
	if err := json.Unmarshal(valRaw, &val); err != nil {
		return nil
	}
	return &assignment{key: key, value: coerceString(val)}
}

// coerceString renders an assignment value. Scalars format naturally;
// composites fall back to their JSON encoding.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
